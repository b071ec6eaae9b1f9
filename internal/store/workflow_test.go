package store_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

var _ = Describe("WorkflowStore", func() {
	var (
		ctx      context.Context
		stores   *store.Stores
		agencyID int64
	)

	BeforeEach(func() {
		requireDatabase()
		ctx = context.Background()
		stores = store.NewStores(database.Querier())
		agencyID = id.New()
	})

	create := func(trigger model.Trigger, agentID *int64, active bool) *model.Workflow {
		wf := &model.Workflow{
			AgencyID: agencyID,
			AgentID:  agentID,
			Name:     string(trigger),
			Trigger:  trigger,
			Conditions: []model.Condition{
				{Field: "status", Operator: "==", Value: "completed"},
			},
			Actions: []model.ActionSpec{
				{Type: "send_slack", Config: json.RawMessage(`{"message":"done"}`)},
			},
			IsActive: active,
		}
		Expect(stores.Workflows().Create(ctx, wf)).To(Succeed())
		return wf
	}

	It("lists active workflows for the triggers and agent", func() {
		agentID := int64(11)
		generic := create(model.TriggerCallEnded, nil, true)
		scoped := create(model.TriggerInboundCallEnded, &agentID, true)
		create(model.TriggerInboundCallEnded, ptr(int64(12)), true)
		create(model.TriggerCallEnded, nil, false)
		create(model.TriggerCallStarted, nil, true)

		got, err := stores.Workflows().ListActiveByTriggers(ctx, agencyID,
			[]model.Trigger{model.TriggerCallEnded, model.TriggerInboundCallEnded}, &agentID)
		Expect(err).NotTo(HaveOccurred())

		ids := []int64{}
		for _, wf := range got {
			ids = append(ids, wf.ID)
		}
		Expect(ids).To(ConsistOf(generic.ID, scoped.ID))
		Expect(got[0].Conditions).To(HaveLen(1))
		Expect(got[0].Actions[0].Type).To(Equal("send_slack"))
	})

	It("records an execution log from running to finished", func() {
		wf := create(model.TriggerCallEnded, nil, true)
		call, err := stores.Calls().Upsert(ctx, store.UpsertCallParams{
			ExternalID: "call_" + id.NewString(),
			Provider:   model.ProviderRetell,
			AgencyID:   &agencyID,
		})
		Expect(err).NotTo(HaveOccurred())

		log := &model.WorkflowExecutionLog{
			WorkflowID:   wf.ID,
			CallID:       call.Call.ID,
			AgencyID:     agencyID,
			Trigger:      model.TriggerCallEnded,
			Status:       model.ExecutionStatusRunning,
			ActionsTotal: 1,
		}
		Expect(stores.ExecutionLogs().Create(ctx, log)).To(Succeed())

		now := time.Now()
		log.Status = model.ExecutionStatusCompleted
		log.ActionsSucceeded = 1
		log.CompletedAt = &now
		log.ActionResults = []model.ActionResult{
			{ActionIndex: 0, ActionType: "send_slack", Status: model.ActionStatusSuccess, Attempts: 1},
		}
		Expect(stores.ExecutionLogs().Finish(ctx, log)).To(Succeed())

		logs, err := stores.ExecutionLogs().ListByCall(ctx, call.Call.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(1))
		Expect(logs[0].Status).To(Equal(model.ExecutionStatusCompleted))
		Expect(logs[0].ActionResults).To(HaveLen(1))
		Expect(logs[0].CompletedAt).NotTo(BeNil())
	})

	It("accumulates daily usage", func() {
		day := time.Date(2024, 5, 2, 23, 0, 0, 0, time.UTC)
		usage := stores.Usage()
		Expect(usage.Increment(ctx, model.UsageIncrement{AgencyID: agencyID, Day: day, Seconds: 30, CostCents: 5})).To(Succeed())
		Expect(usage.Increment(ctx, model.UsageIncrement{AgencyID: agencyID, Day: day, Seconds: 60, CostCents: 7})).To(Succeed())

		var calls, seconds, cost int64
		Expect(database.Querier().QueryRow(ctx,
			`SELECT calls, seconds, cost_cents FROM usage_daily WHERE agency_id = $1`, agencyID).
			Scan(&calls, &seconds, &cost)).To(Succeed())
		Expect(calls).To(Equal(int64(2)))
		Expect(seconds).To(Equal(int64(90)))
		Expect(cost).To(Equal(int64(12)))
	})
})
