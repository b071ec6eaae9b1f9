package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callrelay.app/relay/common/llm"
	"callrelay.app/relay/common/logger"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

// maxAnalysisTranscript keeps prompts inside the model context window.
const maxAnalysisTranscript = 60000

const analysisSystemPrompt = `You review phone calls handled by an AI voice agent for a small business.
Read the transcript and answer with:
- summary: two or three sentences a busy owner can skim
- sentiment: the caller's overall sentiment
- score: 0-100, how likely the caller is to become or stay a paying customer
- outcome: a short label such as "booked", "quote requested", "complaint", "wrong number"
- follow_up_needed: whether a human should call back`

// CallAnalysis is the structured answer requested from the model.
type CallAnalysis struct {
	Summary        string `json:"summary"`
	Sentiment      string `json:"sentiment" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	Score          int    `json:"score" jsonschema:"minimum=0,maximum=100"`
	Outcome        string `json:"outcome"`
	FollowUpNeeded bool   `json:"follow_up_needed"`
}

// Analyzer enriches a completed call.
type Analyzer interface {
	Analyze(ctx context.Context, call *model.Call) error
}

type llmAnalyzer struct {
	client llm.Client
	calls  store.CallStore
	schema any
}

func NewAnalyzer(client llm.Client, calls store.CallStore) Analyzer {
	return &llmAnalyzer{client: client, calls: calls, schema: llm.SchemaFor[CallAnalysis]()}
}

func (a *llmAnalyzer) Analyze(ctx context.Context, call *model.Call) error {
	transcript := strings.TrimSpace(call.Transcript)
	if transcript == "" {
		return nil
	}

	prompt := llm.Prompt{
		System:      analysisSystemPrompt,
		User:        buildAnalysisInput(call, logger.Truncate(transcript, maxAnalysisTranscript)),
		SchemaName:  "call_analysis",
		Schema:      a.schema,
		Temperature: llm.Temp(0),
	}

	var result CallAnalysis
	_, err := a.client.Complete(ctx, prompt, &result)
	if err != nil && llm.IsRetryable(err) {
		slog.WarnContext(ctx, "call analysis failed, retrying once", "error", err)
		time.Sleep(time.Second)
		_, err = a.client.Complete(ctx, prompt, &result)
	}
	if err != nil {
		return fmt.Errorf("analyzing call: %w", err)
	}

	score := max(0, min(result.Score, 100))
	sentiment := strings.ToLower(strings.TrimSpace(result.Sentiment))
	patch := store.EnrichmentPatch{
		CallScore: &score,
		Metadata: map[string]any{"analysis": map[string]any{
			"outcome":          result.Outcome,
			"follow_up_needed": result.FollowUpNeeded,
			"model":            a.client.Model(),
		}},
	}
	// provider-supplied values win over the model's
	if call.Summary == nil && result.Summary != "" {
		patch.Summary = &result.Summary
	}
	if call.Sentiment == nil && sentiment != "" {
		patch.Sentiment = &sentiment
	}

	if err := a.calls.PatchEnrichment(ctx, call.ID, patch); err != nil {
		return fmt.Errorf("saving call analysis: %w", err)
	}
	slog.InfoContext(ctx, "call analyzed", "score", score, "outcome", result.Outcome)
	return nil
}

func buildAnalysisInput(call *model.Call, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", call.Direction)
	if call.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %d seconds\n", *call.DurationSeconds)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}
