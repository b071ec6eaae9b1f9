package normalizer_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
)

var _ = Describe("Vapi", func() {
	var (
		ctx context.Context
		n   *normalizer.Vapi
	)

	BeforeEach(func() {
		ctx = context.Background()
		n = normalizer.NewVapi(normalizer.Options{})
	})

	It("maps an in-progress status update to call_started", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{
			"type": "status-update", "status": "in-progress",
			"call": {"id": "v1", "assistantId": "as1", "type": "inboundPhoneCall",
				"customer": {"number": "+15551112222"}, "phoneNumber": {"number": "+15553334444"},
				"startedAt": "2024-03-01T10:00:00Z"}
		}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(event.Kind).To(Equal(model.EventKindCallStarted))
		Expect(event.ExternalAgentID).To(Equal("as1"))
		Expect(*event.Fields.Direction).To(Equal(model.DirectionInbound))
		Expect(*event.Fields.FromNumber).To(Equal("+15551112222"))
		Expect(*event.Fields.ToNumber).To(Equal("+15553334444"))
	})

	It("marks an ended status update as preliminary to the report", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{
			"type": "status-update", "status": "ended", "endedReason": "customer-ended-call",
			"call": {"id": "v1", "assistantId": "as1"}
		}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(event.Kind).To(Equal(model.EventKindCallEnded))
		Expect(event.Preliminary).To(BeTrue())
		Expect(event.Fields.EndedAt).NotTo(BeNil())
	})

	It("maps an end-of-call report converting dollars to cents", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{
			"type": "end-of-call-report", "endedReason": "customer-ended-call",
			"cost": 0.125, "durationSeconds": 61.6,
			"call": {"id": "v1", "type": "outboundPhoneCall", "customer": {"number": "+15551112222"}},
			"artifact": {"transcript": "User: thanks, that sounds great", "recordingUrl": "https://r"},
			"analysis": {"summary": "Interested lead"}
		}}`))
		Expect(err).NotTo(HaveOccurred())
		f := event.Fields
		Expect(event.Kind).To(Equal(model.EventKindCallEnded))
		Expect(*f.Status).To(Equal(model.CallStatusCompleted))
		Expect(*f.CostCents).To(Equal(13))
		Expect(*f.DurationSeconds).To(Equal(62))
		Expect(*f.ToNumber).To(Equal("+15551112222"))
		Expect(*f.Summary).To(Equal("Interested lead"))
		Expect(*f.RecordingURL).To(Equal("https://r"))
		Expect(*f.Sentiment).To(Equal("positive"))
		Expect(f.Metadata).To(HaveKeyWithValue("ended_reason", "customer-ended-call"))
	})

	It("computes duration from timestamps when not supplied", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{
			"type": "end-of-call-report",
			"startedAt": "2024-03-01T10:00:00Z", "endedAt": "2024-03-01T10:02:30Z",
			"call": {"id": "v1"}
		}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(*event.Fields.DurationSeconds).To(Equal(150))
	})

	It("marks pipeline errors as failed", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{"type":"end-of-call-report","endedReason":"pipeline-error-openai-llm-failed","call":{"id":"v1"}}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(*event.Fields.Status).To(Equal(model.CallStatusFailed))
	})

	It("only accepts final transcripts as deltas", func() {
		event, err := n.Normalize(ctx, []byte(`{"message":{"type":"transcript","transcriptType":"final","role":"assistant","transcript":"How can I help?","call":{"id":"v1"}}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(event.Kind).To(Equal(model.EventKindTranscriptDelta))
		Expect(event.TranscriptLine).To(Equal("Agent: How can I help?"))

		_, err = n.Normalize(ctx, []byte(`{"message":{"type":"transcript","transcriptType":"partial","transcript":"How","call":{"id":"v1"}}}`))
		Expect(err).To(MatchError(normalizer.ErrUnsupportedEvent))
	})

	It("drops other message types", func() {
		_, err := n.Normalize(ctx, []byte(`{"message":{"type":"speech-update","call":{"id":"v1"}}}`))
		Expect(err).To(MatchError(normalizer.ErrUnsupportedEvent))

		_, err = n.Normalize(ctx, []byte(`{"message":{"type":"status-update","status":"ringing","call":{"id":"v1"}}}`))
		Expect(err).To(MatchError(normalizer.ErrUnsupportedEvent))
	})
})

var _ = DescribeTable("InferSentiment",
	func(transcript, want string) {
		Expect(normalizer.InferSentiment(transcript)).To(Equal(want))
	},
	Entry("empty", "", "neutral"),
	Entry("positive", "Thanks so much, that's perfect", "positive"),
	Entry("negative", "I'm not interested, stop calling me", "negative"),
	Entry("balanced", "great, but I'm frustrated", "neutral"),
)
