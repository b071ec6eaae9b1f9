package service_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/dedupe"
	"callrelay.app/relay/internal/deferred"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/signature"
)

const (
	retellSecret = "key_retell_test"
	vapiSecret   = "vapi_shared_secret"
)

var retellEnded = []byte(`{
  "event": "call_ended",
  "call": {
    "call_id": "call_r1",
    "agent_id": "agent_r1",
    "call_status": "ended",
    "direction": "inbound",
    "from_number": "+15555550100",
    "to_number": "+15555550111",
    "start_timestamp": 1760000000000,
    "end_timestamp": 1760000125000,
    "transcript": "Agent: Thanks for calling.\nUser: I want to book a cleaning.",
    "call_cost": {"combined_cost": 42}
  }
}`)

var retellAnalyzed = []byte(`{
  "event": "call_analyzed",
  "call": {
    "call_id": "call_r1",
    "agent_id": "agent_r1",
    "call_status": "ended",
    "start_timestamp": 1760000000000,
    "end_timestamp": 1760000125000,
    "transcript": "Agent: Thanks for calling.\nUser: I want to book a cleaning.",
    "call_analysis": {"call_summary": "Caller booked a cleaning.", "user_sentiment": "Positive"}
  }
}`)

var retellDelta = []byte(`{
  "event": "transcript_updated",
  "call": {
    "call_id": "call_r1",
    "agent_id": "agent_r1",
    "transcript_object": [{"role": "user", "content": "I need a quote"}]
  }
}`)

var vapiStarted = []byte(`{
  "message": {
    "type": "status-update",
    "status": "in-progress",
    "call": {"id": "call_v1", "assistantId": "asst_v1", "type": "outboundPhoneCall",
             "customer": {"number": "+15555550199"}}
  }
}`)

func retellHeader(body []byte, secret string) http.Header {
	h := http.Header{}
	h.Set(signature.RetellHeader, signature.SignRetell(body, secret, time.Now()))
	return h
}

var _ = Describe("CallIngestService", func() {
	var (
		ctx         context.Context
		calls       *fakeCallStore
		usage       *fakeUsageStore
		runner      *fakeRunner
		broadcaster *fakeBroadcaster
		forwarder   *countingForwarder
		analyzer    *countingAnalyzer
		secrets     fakeSecrets
		svc         service.CallIngestService
	)

	agents := &fakeAgentStore{agents: []model.Agent{
		{
			ID: 11, AgencyID: 7, ClientID: ptr(int64(3)), Provider: model.ProviderRetell,
			ExternalAgentID: "agent_r1", Name: "Front Desk",
			ForwardWebhookURL: ptr("https://hooks.example.com/calls"), AnalysisEnabled: true,
		},
		{ID: 12, AgencyID: 8, Provider: model.ProviderVapi, ExternalAgentID: "asst_v1", Name: "Outbound"},
	}}

	build := func() {
		svc = service.NewCallIngestService(service.CallIngestConfig{
			Normalizers: normalizer.Default(normalizer.Options{}),
			Verifiers: map[model.Provider]signature.Verifier{
				model.ProviderRetell: signature.Retell{},
				model.ProviderVapi:   signature.Vapi{},
			},
			Secrets:     secrets,
			Calls:       calls,
			Agents:      agents,
			Usage:       usage,
			Workflows:   runner,
			Broadcaster: broadcaster,
			Forwarder:   forwarder,
			Analyzer:    analyzer,
			Runner:      deferred.Sync{},
			Claims:      dedupe.NewMemory(dedupe.DefaultTTL),
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		calls = newFakeCallStore()
		usage = &fakeUsageStore{}
		runner = &fakeRunner{}
		broadcaster = &fakeBroadcaster{}
		forwarder = &countingForwarder{}
		analyzer = &countingAnalyzer{}
		secrets = fakeSecrets{model.ProviderRetell: retellSecret, model.ProviderVapi: vapiSecret}
		build()
	})

	Describe("verification", func() {
		It("drops webhooks for agents it does not manage", func() {
			body := []byte(`{"event":"call_started","call":{"call_id":"c9","agent_id":"agent_unknown"}}`)
			_, err := svc.Ingest(ctx, model.ProviderRetell, body, retellHeader(body, retellSecret))
			Expect(err).To(MatchError(service.ErrUnknownAgent))
			Expect(calls.byExternal).To(BeEmpty())
		})

		It("rejects when no signing secret is configured", func() {
			secrets = fakeSecrets{}
			build()
			_, err := svc.Ingest(ctx, model.ProviderRetell, retellEnded, retellHeader(retellEnded, retellSecret))
			Expect(err).To(MatchError(signature.ErrInvalid))
			Expect(calls.byExternal).To(BeEmpty())
		})

		It("rejects a signature made with the wrong secret", func() {
			_, err := svc.Ingest(ctx, model.ProviderRetell, retellEnded, retellHeader(retellEnded, "other"))
			Expect(err).To(MatchError(signature.ErrInvalid))
			Expect(calls.byExternal).To(BeEmpty())
			Expect(runner.runs).To(BeEmpty())
		})

		It("rejects an unsigned delivery", func() {
			_, err := svc.Ingest(ctx, model.ProviderVapi, vapiStarted, http.Header{})
			Expect(err).To(MatchError(signature.ErrInvalid))
		})

		It("passes through malformed and unsupported payloads", func() {
			_, err := svc.Ingest(ctx, model.ProviderRetell, []byte(`{not json`), http.Header{})
			Expect(err).To(MatchError(normalizer.ErrMalformed))

			body := []byte(`{"event":"call_transferred","call":{"call_id":"c1","agent_id":"agent_r1"}}`)
			_, err = svc.Ingest(ctx, model.ProviderRetell, body, retellHeader(body, retellSecret))
			Expect(err).To(MatchError(normalizer.ErrUnsupportedEvent))
		})
	})

	Describe("call started", func() {
		It("creates the call, broadcasts and runs workflows", func() {
			header := http.Header{}
			header.Set(signature.VapiSecretHeader, vapiSecret)

			res, err := svc.Ingest(ctx, model.ProviderVapi, vapiStarted, header)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Created).To(BeTrue())
			Expect(res.Call.Status).To(Equal(model.CallStatusInProgress))
			Expect(*res.Call.AgencyID).To(Equal(int64(8)))

			Expect(broadcaster.updates).To(HaveLen(1))
			Expect(broadcaster.updates[0].Event).To(Equal(model.EventKindCallStarted))
			Expect(broadcaster.updates[0].ExternalID).To(Equal("call_v1"))

			Expect(runner.runs).To(ConsistOf(recordedRun{CallID: res.Call.ID, Kind: model.EventKindCallStarted, Agent: "Outbound"}))
			Expect(usage.incs).To(BeEmpty())
		})
	})

	Describe("transcript deltas", func() {
		It("appends the line and only broadcasts", func() {
			res, err := svc.Ingest(ctx, model.ProviderRetell, retellDelta, retellHeader(retellDelta, retellSecret))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Event.Kind).To(Equal(model.EventKindTranscriptDelta))
			Expect(calls.appended).To(ConsistOf(ContainSubstring("I need a quote")))

			Expect(broadcaster.updates).To(HaveLen(1))
			Expect(broadcaster.updates[0].Line).To(ContainSubstring("I need a quote"))
			Expect(runner.runs).To(BeEmpty())
		})

		It("reports a warning when the append fails", func() {
			calls.appendErr = errors.New("connection reset")
			res, err := svc.Ingest(ctx, model.ProviderRetell, retellDelta, retellHeader(retellDelta, retellSecret))
			Expect(err).To(MatchError(service.ErrPersistence))
			Expect(res.Warning).NotTo(BeEmpty())
		})
	})

	It("keeps the lifecycle-end transcript over the deltas that preceded it", func() {
		delta := func(line string) []byte {
			return []byte(`{"event":"transcript_updated","call":{"call_id":"call_r9","agent_id":"agent_r1",
				"transcript_object":[{"role":"user","content":"` + line + `"}]}}`)
		}
		for _, line := range []string{"I need a quote", "for two rooms", "next Tuesday"} {
			body := delta(line)
			_, err := svc.Ingest(ctx, model.ProviderRetell, body, retellHeader(body, retellSecret))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(calls.byExternal["call_r9"].Transcript).To(Equal("User: I need a quote\nUser: for two rooms\nUser: next Tuesday"))

		ended := []byte(`{"event":"call_ended","call":{"call_id":"call_r9","agent_id":"agent_r1",
			"call_status":"ended","transcript":"User: quote please"}}`)
		res, err := svc.Ingest(ctx, model.ProviderRetell, ended, retellHeader(ended, retellSecret))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Call.Transcript).To(Equal("User: quote please"))
		Expect(calls.byExternal["call_r9"].Transcript).To(Equal("User: quote please"))
	})

	Describe("persistence fallback", func() {
		It("stores a minimal record when the full upsert fails", func() {
			calls.upsertErr = errors.New("value too long")
			res, err := svc.Ingest(ctx, model.ProviderRetell, retellAnalyzed, retellHeader(retellAnalyzed, retellSecret))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Warning).To(Equal("stored partial call record"))
			Expect(calls.minimal).To(Equal(1))
			Expect(res.Call.Status).To(Equal(model.CallStatusCompleted))
			Expect(runner.runs).To(HaveLen(1))
		})

		It("acknowledges with ErrPersistence when nothing can be stored", func() {
			calls.upsertErr = errors.New("db down")
			calls.minimalErr = errors.New("db down")
			res, err := svc.Ingest(ctx, model.ProviderRetell, retellEnded, retellHeader(retellEnded, retellSecret))
			Expect(err).To(MatchError(service.ErrPersistence))
			Expect(res.Warning).To(Equal("call not stored"))
			Expect(runner.runs).To(BeEmpty())
			Expect(broadcaster.updates).To(BeEmpty())
		})
	})

	Describe("call ended", func() {
		It("meters, forwards and analyzes once across repeated end events", func() {
			_, err := svc.Ingest(ctx, model.ProviderRetell, retellEnded, retellHeader(retellEnded, retellSecret))
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Ingest(ctx, model.ProviderRetell, retellAnalyzed, retellHeader(retellAnalyzed, retellSecret))
			Expect(err).NotTo(HaveOccurred())

			Expect(usage.incs).To(HaveLen(1))
			inc := usage.incs[0]
			Expect(inc.AgencyID).To(Equal(int64(7)))
			Expect(inc.ClientID).To(Equal(int64(3)))
			Expect(inc.Seconds).To(Equal(125))
			Expect(inc.CostCents).To(Equal(42))
			Expect(inc.Day).To(BeTemporally("==", time.UnixMilli(1760000125000)))

			Expect(forwarder.calls).To(Equal([]string{"call_r1"}))
			Expect(analyzer.calls).To(Equal(1))

			Expect(runner.runs).To(HaveLen(1))
			Expect(broadcaster.updates).To(HaveLen(2))
		})

		It("runs end-of-call workflows on the analyzed delivery with its sentiment and summary", func() {
			_, err := svc.Ingest(ctx, model.ProviderRetell, retellEnded, retellHeader(retellEnded, retellSecret))
			Expect(err).NotTo(HaveOccurred())
			Expect(runner.runs).To(BeEmpty())
			Expect(usage.incs).To(BeEmpty())

			_, err = svc.Ingest(ctx, model.ProviderRetell, retellAnalyzed, retellHeader(retellAnalyzed, retellSecret))
			Expect(err).NotTo(HaveOccurred())

			Expect(runner.calls).To(HaveLen(1))
			seen := runner.calls[0]
			Expect(runner.runs[0].Kind).To(Equal(model.EventKindCallEnded))
			Expect(seen.Sentiment).To(HaveValue(Equal("positive")))
			Expect(seen.Summary).To(HaveValue(Equal("Caller booked a cleaning.")))
			Expect(seen.CostCents).To(HaveValue(Equal(42)))
			Expect(seen.Direction).To(Equal(model.DirectionInbound))
		})

		It("waits for the Vapi end-of-call report before metering", func() {
			ended := []byte(`{"message":{"type":"status-update","status":"ended","endedReason":"customer-ended-call",
				"call":{"id":"call_v3","assistantId":"asst_v1"}}}`)
			report := []byte(`{"message":{"type":"end-of-call-report","call":{"id":"call_v3","assistantId":"asst_v1"},
				"durationSeconds": 61, "cost": 0.5, "artifact": {"transcript": "AI: bye"}}}`)
			for _, body := range [][]byte{ended, report} {
				header := http.Header{}
				header.Set(signature.VapiHeader, signature.Sign(body, vapiSecret))
				_, err := svc.Ingest(ctx, model.ProviderVapi, body, header)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(usage.incs).To(HaveLen(1))
			Expect(usage.incs[0].Seconds).To(Equal(61))
			Expect(usage.incs[0].CostCents).To(Equal(50))
			Expect(runner.runs).To(HaveLen(1))
		})

		It("skips forwarding and analysis when the agent has neither", func() {
			body := []byte(`{"message":{"type":"end-of-call-report","call":{"id":"call_v2","assistantId":"asst_v1"},
				"durationSeconds": 30, "cost": 0.12, "artifact": {"transcript": "AI: hello"}}}`)
			header := http.Header{}
			header.Set(signature.VapiHeader, signature.Sign(body, vapiSecret))

			_, err := svc.Ingest(ctx, model.ProviderVapi, body, header)
			Expect(err).NotTo(HaveOccurred())
			Expect(usage.incs).To(HaveLen(1))
			Expect(usage.incs[0].Seconds).To(Equal(30))
			Expect(usage.incs[0].CostCents).To(Equal(12))
			Expect(forwarder.calls).To(BeEmpty())
			Expect(analyzer.calls).To(BeZero())
		})
	})
})
