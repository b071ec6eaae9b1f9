package store_test

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("CallStore", func() {
	var (
		ctx        context.Context
		calls      store.CallStore
		externalID string
	)

	BeforeEach(func() {
		requireDatabase()
		ctx = context.Background()
		calls = store.NewStores(database.Querier()).Calls()
		externalID = "call_" + id.NewString()
	})

	upsert := func(fields model.CallFields) *store.UpsertResult {
		res, err := calls.Upsert(ctx, store.UpsertCallParams{
			ExternalID: externalID,
			Provider:   model.ProviderRetell,
			AgencyID:   ptr(int64(7)),
			Fields:     fields,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	Describe("Upsert", func() {
		It("creates one row per external id however often an event is replayed", func() {
			first := upsert(model.CallFields{Status: ptr(model.CallStatusInProgress), FromNumber: ptr("+15550001111")})
			Expect(first.Created).To(BeTrue())

			second := upsert(model.CallFields{Status: ptr(model.CallStatusInProgress), FromNumber: ptr("+15550001111")})
			Expect(second.Created).To(BeFalse())
			Expect(second.Call.ID).To(Equal(first.Call.ID))

			var count int
			Expect(database.Querier().QueryRow(ctx, `SELECT count(*) FROM calls WHERE external_id = $1`, externalID).
				Scan(&count)).To(Succeed())
			Expect(count).To(Equal(1))
		})

		It("only overwrites supplied fields", func() {
			upsert(model.CallFields{Status: ptr(model.CallStatusInProgress), FromNumber: ptr("+15550001111")})
			res := upsert(model.CallFields{DurationSeconds: ptr(42)})

			Expect(res.Call.FromNumber).To(Equal("+15550001111"))
			Expect(res.Call.Status).To(Equal(model.CallStatusInProgress))
			Expect(*res.Call.DurationSeconds).To(Equal(42))
		})

		It("does not reopen a terminal call", func() {
			upsert(model.CallFields{Status: ptr(model.CallStatusCompleted)})
			res := upsert(model.CallFields{Status: ptr(model.CallStatusInProgress)})

			Expect(res.Call.Status).To(Equal(model.CallStatusCompleted))
		})

		It("shallow merges metadata", func() {
			upsert(model.CallFields{Metadata: map[string]any{"a": "1", "b": "1"}})
			res := upsert(model.CallFields{Metadata: map[string]any{"b": "2", "c": "3"}})

			Expect(res.Call.Metadata).To(Equal(map[string]any{"a": "1", "b": "2", "c": "3"}))
		})

		It("caps a replaced transcript", func() {
			res, err := calls.Upsert(ctx, store.UpsertCallParams{
				ExternalID:    externalID,
				Provider:      model.ProviderVapi,
				Fields:        model.CallFields{Transcript: ptr(strings.Repeat("x", 50))},
				TranscriptCap: 10,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Call.Transcript).To(HaveLen(10))
		})

		It("caps a replaced transcript at the default limit counted in characters", func() {
			long := strings.Repeat("é", model.DefaultTranscriptCap+25)
			res := upsert(model.CallFields{Transcript: &long})

			Expect(utf8.RuneCountInString(res.Call.Transcript)).To(Equal(model.DefaultTranscriptCap))
			Expect(res.Call.Transcript).To(Equal(long[:2*model.DefaultTranscriptCap]))
		})

		It("round-trips timestamps", func() {
			started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			res := upsert(model.CallFields{StartedAt: &started})
			Expect(res.Call.StartedAt).NotTo(BeNil())
			Expect(res.Call.StartedAt.Equal(started)).To(BeTrue())
		})
	})

	Describe("AppendTranscript", func() {
		appendLine := func(line string, limit int) *store.UpsertResult {
			res, err := calls.AppendTranscript(ctx, store.AppendTranscriptParams{
				ExternalID:    externalID,
				Provider:      model.ProviderRetell,
				Line:          line,
				TranscriptCap: limit,
			})
			Expect(err).NotTo(HaveOccurred())
			return res
		}

		It("creates an in-progress placeholder when the call is unknown", func() {
			res := appendLine("Agent: hello", 0)
			Expect(res.Created).To(BeTrue())
			Expect(res.Call.Status).To(Equal(model.CallStatusInProgress))
			Expect(res.Call.Transcript).To(Equal("Agent: hello"))
		})

		It("appends lines so the transcript only grows", func() {
			appendLine("Agent: hello", 0)
			res := appendLine("User: hi", 0)
			Expect(res.Call.Transcript).To(Equal("Agent: hello\nUser: hi"))
		})

		It("stops at the cap", func() {
			appendLine(strings.Repeat("a", 8), 10)
			res := appendLine(strings.Repeat("b", 8), 10)
			Expect(res.Call.Transcript).To(Equal("aaaaaaaa\nb"))
		})

		It("stops growing at the default limit", func() {
			appendLine(strings.Repeat("日", model.DefaultTranscriptCap-3), 0)
			res := appendLine("本日は", 0)

			Expect(utf8.RuneCountInString(res.Call.Transcript)).To(Equal(model.DefaultTranscriptCap))
			Expect(strings.HasSuffix(res.Call.Transcript, "\n本日")).To(BeTrue())
		})

		It("lets the lifecycle end replace the accumulated deltas", func() {
			appendLine("Agent: hello", 0)
			appendLine("User: I want a quote for two rooms", 0)
			grown := appendLine("Agent: sure, what size?", 0)
			Expect(grown.Call.Transcript).To(Equal("Agent: hello\nUser: I want a quote for two rooms\nAgent: sure, what size?"))

			final := upsert(model.CallFields{Status: ptr(model.CallStatusCompleted), Transcript: ptr("Agent: bye")})
			Expect(final.Call.Transcript).To(Equal("Agent: bye"))

			late := appendLine("User: wait", 0)
			Expect(late.Call.Transcript).To(Equal("Agent: bye"))
		})

		It("ignores deltas once the call is terminal", func() {
			upsert(model.CallFields{Status: ptr(model.CallStatusCompleted), Transcript: ptr("final")})
			res := appendLine("late", 0)
			Expect(res.Call.Transcript).To(Equal("final"))
		})
	})

	Describe("PatchEnrichment", func() {
		It("sets analysis fields on an existing call", func() {
			created := upsert(model.CallFields{Status: ptr(model.CallStatusCompleted)})

			Expect(calls.PatchEnrichment(ctx, created.Call.ID, store.EnrichmentPatch{
				Summary:   ptr("booked a demo"),
				Sentiment: ptr("positive"),
				CallScore: ptr(80),
				Metadata:  map[string]any{"analysis": map[string]any{"model": "test"}},
			})).To(Succeed())

			got, err := calls.GetByExternalID(ctx, externalID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*got.Summary).To(Equal("booked a demo"))
			Expect(*got.CallScore).To(Equal(80))
			Expect(got.Metadata).To(HaveKey("analysis"))
		})

		It("returns ErrNotFound for an unknown call", func() {
			err := calls.PatchEnrichment(ctx, id.New(), store.EnrichmentPatch{Summary: ptr("x")})
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	It("falls back to a minimal record", func() {
		res, err := calls.UpsertMinimal(ctx, externalID, model.ProviderVapi, model.CallStatusCompleted)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Call.Status).To(Equal(model.CallStatusCompleted))
		Expect(res.Call.Provider).To(Equal(model.ProviderVapi))
	})

	It("returns ErrNotFound for a missing external id", func() {
		_, err := calls.GetByExternalID(ctx, "missing_"+id.NewString())
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
