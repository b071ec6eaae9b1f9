package store

import (
	"callrelay.app/relay/core/db"
)

type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Calls() CallStore {
	return newCallStore(s.q)
}

func (s *Stores) Agents() AgentStore {
	return newAgentStore(s.q)
}

func (s *Stores) Integrations() IntegrationStore {
	return newIntegrationStore(s.q)
}

func (s *Stores) Workflows() WorkflowStore {
	return newWorkflowStore(s.q)
}

func (s *Stores) ExecutionLogs() ExecutionLogStore {
	return newExecutionLogStore(s.q)
}

func (s *Stores) Usage() UsageStore {
	return newUsageStore(s.q)
}
