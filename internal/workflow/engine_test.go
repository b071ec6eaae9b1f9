package workflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/dedupe"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/workflow"
)

var _ = Describe("Engine", func() {
	var (
		slack     *httptest.Server
		slackHits atomic.Int32
		workflows *fakeWorkflowStore
		logs      *fakeLogStore
		resolver  *staticResolver
		engine    *workflow.Engine
		call      *model.Call
	)

	spec := func(t, cfg string) model.ActionSpec {
		return model.ActionSpec{Type: t, Config: json.RawMessage(cfg)}
	}

	BeforeEach(func() {
		slackHits.Store(0)
		slack = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slackHits.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		DeferCleanup(slack.Close)

		workflows = &fakeWorkflowStore{}
		logs = &fakeLogStore{}
		resolver = &staticResolver{set: credential.NewStaticSet(credential.Credential{
			Provider: model.ProviderSlack,
			Settings: map[string]string{model.SettingWebhookURL: slack.URL + "/hook"},
		})}

		registry := action.NewDefaultRegistry(action.Deps{HTTPClient: slack.Client()})
		dispatcher := action.NewDispatcher(registry, action.WithSleep(func(context.Context, time.Duration) error { return nil }))
		engine = workflow.NewEngine(workflows, logs, dispatcher, resolver)

		call = &model.Call{
			ID:              1001,
			ExternalID:      "call_e2e",
			AgencyID:        ptr(int64(10)),
			AgentID:         ptr(int64(20)),
			Status:          model.CallStatusCompleted,
			Direction:       model.DirectionInbound,
			FromNumber:      "+15551230000",
			DurationSeconds: ptr(200),
			Sentiment:       ptr("negative"),
		}
	})

	It("runs every action and records a partial failure when one fails", func() {
		workflows.workflows = []model.Workflow{{
			ID: 1, AgencyID: 10, Name: "crm + alert", Trigger: model.TriggerCallEnded, IsActive: true,
			Actions: []model.ActionSpec{
				spec("hubspot_upsert_contact", `{"first_name":"Caller"}`),
				spec("send_slack", `{"message":"{{agent_name}} finished {{call_id}}"}`),
			},
		}}

		out, err := engine.Run(context.Background(), call, model.EventKindCallEnded, "Front Desk")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		log := out[0]
		Expect(log.Status).To(Equal(model.ExecutionStatusPartialFailure))
		Expect(log.ActionsTotal).To(Equal(2))
		Expect(log.ActionsSucceeded).To(Equal(1))
		Expect(log.ActionsFailed).To(Equal(1))

		Expect(log.ActionResults).To(HaveLen(2))
		first, second := log.ActionResults[0], log.ActionResults[1]
		Expect(first.ActionIndex).To(Equal(0))
		Expect(first.Status).To(Equal(model.ActionStatusFailed))
		Expect(first.Attempts).To(Equal(1))
		Expect(*first.Error).To(ContainSubstring("credential_missing"))
		Expect(second.ActionIndex).To(Equal(1))
		Expect(second.Status).To(Equal(model.ActionStatusSuccess))
		Expect(log.ErrorSummary).NotTo(BeNil())
		Expect(*log.ErrorSummary).To(ContainSubstring("hubspot_upsert_contact"))
		Expect(slackHits.Load()).To(Equal(int32(1)))

		Expect(logs.created).To(HaveLen(1))
		Expect(logs.created[0].Status).To(Equal(model.ExecutionStatusRunning))
		Expect(logs.finished).To(HaveLen(1))
		Expect(logs.finished[0].CompletedAt).NotTo(BeNil())
	})

	It("unions the generic and inbound triggers", func() {
		workflows.workflows = []model.Workflow{
			{ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true},
			{ID: 2, AgencyID: 10, Trigger: model.TriggerInboundCallEnded, IsActive: true},
			{ID: 3, AgencyID: 10, Trigger: model.TriggerCallStarted, IsActive: true},
			{ID: 4, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: false},
			{ID: 5, AgencyID: 11, Trigger: model.TriggerCallEnded, IsActive: true},
			{ID: 6, AgencyID: 10, AgentID: ptr(int64(99)), Trigger: model.TriggerCallEnded, IsActive: true},
			{ID: 7, AgencyID: 10, AgentID: ptr(int64(20)), Trigger: model.TriggerCallEnded, IsActive: true},
		}

		out, err := engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(err).NotTo(HaveOccurred())
		var ran []int64
		for _, l := range out {
			ran = append(ran, l.WorkflowID)
			Expect(l.Status).To(Equal(model.ExecutionStatusCompleted))
		}
		Expect(ran).To(ConsistOf(int64(1), int64(2), int64(7)))
	})

	It("skips a workflow whose conditions fail without touching credentials", func() {
		workflows.workflows = []model.Workflow{{
			ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true,
			Conditions: []model.Condition{{Field: "sentiment", Operator: "==", Value: "positive"}},
			Actions:    []model.ActionSpec{spec("send_slack", `{"message":"yay"}`)},
		}}

		out, _ := engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(out).To(HaveLen(1))
		Expect(out[0].Status).To(Equal(model.ExecutionStatusSkipped))
		Expect(out[0].ActionsTotal).To(BeZero())
		Expect(out[0].ActionResults).To(BeEmpty())
		Expect(slackHits.Load()).To(BeZero())
		Expect(resolver.calls).To(BeZero())
	})

	It("marks a run failed when every action fails", func() {
		workflows.workflows = []model.Workflow{{
			ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true,
			Actions: []model.ActionSpec{
				spec("gohighlevel_add_note", `{"body":"x"}`),
				spec("send_sms", `{"message":"x"}`),
			},
		}}

		out, _ := engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(out[0].Status).To(Equal(model.ExecutionStatusFailed))
		Expect(out[0].ActionsFailed).To(Equal(2))
	})

	It("resolves credentials once per event", func() {
		for i := int64(1); i <= 4; i++ {
			workflows.workflows = append(workflows.workflows, model.Workflow{
				ID: i, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true,
				Actions: []model.ActionSpec{spec("send_slack", `{"message":"hi"}`)},
			})
		}

		out, _ := engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(out).To(HaveLen(4))
		Expect(resolver.calls).To(Equal(1))
		Expect(slackHits.Load()).To(Equal(int32(4)))
	})

	It("runs a workflow once per call and trigger across duplicate deliveries", func() {
		workflows.workflows = []model.Workflow{{
			ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true,
			Actions: []model.ActionSpec{spec("send_slack", `{"message":"once"}`)},
		}}

		first, _ := engine.Run(context.Background(), call, model.EventKindCallEnded, "")
		second, _ := engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(first).To(HaveLen(1))
		Expect(second).To(BeEmpty())
		Expect(slackHits.Load()).To(Equal(int32(1)))
	})

	It("reruns duplicates when deduplication is disabled", func() {
		engine = workflow.NewEngine(workflows, logs,
			action.NewDispatcher(action.NewDefaultRegistry(action.Deps{HTTPClient: slack.Client()})),
			resolver, workflow.WithClaimer(dedupe.Always{}))
		workflows.workflows = []model.Workflow{{ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true}}

		engine.Run(context.Background(), call, model.EventKindCallEnded, "")
		engine.Run(context.Background(), call, model.EventKindCallEnded, "")

		Expect(logs.created).To(HaveLen(2))
	})

	It("does nothing for transcript deltas or calls without an agency", func() {
		workflows.workflows = []model.Workflow{{ID: 1, AgencyID: 10, Trigger: model.TriggerCallEnded, IsActive: true}}

		out, err := engine.Run(context.Background(), call, model.EventKindTranscriptDelta, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())

		call.AgencyID = nil
		out, _ = engine.Run(context.Background(), call, model.EventKindCallEnded, "")
		Expect(out).To(BeEmpty())
		Expect(workflows.calls).To(BeEmpty())
	})
})
