package model

import "time"

// UsageIncrement is added to an agency's daily usage counters when a call ends.
type UsageIncrement struct {
	AgencyID  int64
	ClientID  int64
	Day       time.Time
	Seconds   int
	CostCents int
}
