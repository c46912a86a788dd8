package reporting

import "time"

// TimeRange is half-open: [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummary aggregates the call event log over a time range.
type CallsSummary struct {
	Range TimeRange `json:"range"`

	DispatchedCalls int `json:"dispatched_calls"`
	AnsweredCalls   int `json:"answered_calls"`
	EndedCalls      int `json:"ended_calls"`
	FailedCalls     int `json:"failed_calls"`

	// FailuresByKind counts failed calls per error kind (dial, dial_timeout, connection, ...).
	FailuresByKind map[string]int `json:"failures_by_kind"`

	GreetingFailures int `json:"greeting_failures"`

	TranscriptsDelivered  int `json:"transcripts_delivered"`
	TranscriptsSuppressed int `json:"transcripts_suppressed"`
	TranscriptsFailed     int `json:"transcripts_failed"`

	// Outcomes counts delivered-or-attempted transcripts per outcome.
	Outcomes map[string]int `json:"outcomes"`
}
