// Package workflow matches saved workflows to call events and runs their actions.
package workflow

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"callrelay.app/relay/internal/model"
)

const (
	OpEqual       = "=="
	OpNotEqual    = "!="
	OpGreater     = ">"
	OpLess        = "<"
	OpGreaterEq   = ">="
	OpLessEq      = "<="
	OpContains    = "contains"
	OpNotContains = "not_contains"
)

// Fields lists the call fields a condition may reference.
var Fields = []string{
	"status", "sentiment", "duration_seconds", "direction", "from_number",
	"to_number", "cost_cents", "agent_name", "summary", "transcript",
}

var operators = map[string]struct{}{
	OpEqual: {}, OpNotEqual: {}, OpGreater: {}, OpLess: {}, OpGreaterEq: {},
	OpLessEq: {}, OpContains: {}, OpNotContains: {},
}

// CallView is the read-only projection of a call that conditions see.
// Absent values are omitted rather than stored as zero values.
type CallView map[string]any

// NewCallView projects call. Empty strings and nil pointers are treated as absent.
func NewCallView(call *model.Call, agentName string) CallView {
	v := CallView{}
	if call == nil {
		return v
	}
	putString(v, "status", string(call.Status))
	putString(v, "direction", string(call.Direction))
	putString(v, "from_number", call.FromNumber)
	putString(v, "to_number", call.ToNumber)
	putString(v, "agent_name", agentName)
	putString(v, "transcript", call.Transcript)
	if call.Sentiment != nil {
		putString(v, "sentiment", *call.Sentiment)
	}
	if call.Summary != nil {
		putString(v, "summary", *call.Summary)
	}
	if call.DurationSeconds != nil {
		v["duration_seconds"] = float64(*call.DurationSeconds)
	}
	if call.CostCents != nil {
		v["cost_cents"] = float64(*call.CostCents)
	}
	return v
}

func putString(v CallView, key, s string) {
	if s != "" {
		v[key] = s
	}
}

// Evaluate reports whether every condition holds for call. An empty list is true.
func Evaluate(conditions []model.Condition, call CallView) bool {
	for _, c := range conditions {
		if !evaluateOne(c, call) {
			return false
		}
	}
	return true
}

func evaluateOne(c model.Condition, call CallView) bool {
	if _, ok := operators[c.Operator]; !ok {
		return false
	}

	actual, present := call[c.Field]
	if !present || actual == nil {
		// absence is "not equal to" and "does not contain" anything
		return c.Operator == OpNotEqual || c.Operator == OpNotContains
	}

	switch c.Operator {
	case OpEqual:
		return equal(actual, c.Value)
	case OpNotEqual:
		return !equal(actual, c.Value)
	case OpContains:
		return contains(actual, c.Value)
	case OpNotContains:
		return !contains(actual, c.Value)
	}

	a, aok := toNumber(actual)
	b, bok := toNumber(c.Value)
	if !aok || !bok {
		return false
	}
	switch c.Operator {
	case OpGreater:
		return a > b
	case OpLess:
		return a < b
	case OpGreaterEq:
		return a >= b
	case OpLessEq:
		return a <= b
	}
	return false
}

func equal(actual, expected any) bool {
	a, aok := toNumber(actual)
	b, bok := toNumber(expected)
	if aok && bok {
		return a == b
	}
	return toString(actual) == toString(expected)
}

func contains(actual, expected any) bool {
	// Casers carry state, so each comparison gets its own.
	fold := cases.Fold()
	return strings.Contains(fold.String(toString(actual)), fold.String(toString(expected)))
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(v)
}

// ValidateConditions checks fields and operators as a workflow is saved.
func ValidateConditions(conditions []model.Condition) error {
	for i, c := range conditions {
		if !slices.Contains(Fields, c.Field) {
			return fmt.Errorf("condition %d: unknown field %q", i, c.Field)
		}
		if _, ok := operators[c.Operator]; !ok {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	return nil
}

// TriggersFor returns the triggers fired by an event: the generic trigger,
// plus the inbound-specific one for inbound calls.
func TriggersFor(kind model.EventKind, direction model.Direction) []model.Trigger {
	var generic, inbound model.Trigger
	switch kind {
	case model.EventKindCallStarted:
		generic, inbound = model.TriggerCallStarted, model.TriggerInboundCallStarted
	case model.EventKindCallEnded:
		generic, inbound = model.TriggerCallEnded, model.TriggerInboundCallEnded
	default:
		return nil
	}
	if direction == model.DirectionInbound {
		return []model.Trigger{generic, inbound}
	}
	return []model.Trigger{generic}
}
