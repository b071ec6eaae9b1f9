package model

// EventKind is the normalized category of a provider webhook.
type EventKind string

const (
	EventKindCallStarted     EventKind = "call_started"
	EventKindCallEnded       EventKind = "call_ended"
	EventKindTranscriptDelta EventKind = "transcript_delta"
)

// CallEvent is the provider-independent form of one webhook delivery.
// It is consumed immediately by the ingest service and never persisted as-is.
type CallEvent struct {
	Provider        Provider
	Kind            EventKind
	ExternalID      string
	ExternalAgentID string
	Fields          CallFields

	// TranscriptLine is set for transcript-delta events only.
	TranscriptLine string

	// Preliminary marks an end-of-call delivery the provider follows with a
	// fuller one: Retell's call_ended before call_analyzed, Vapi's ended
	// status before the end-of-call report. It is stored and broadcast, and
	// the end-of-call work waits for the final delivery.
	Preliminary bool
}
