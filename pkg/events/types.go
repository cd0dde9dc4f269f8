// Package events defines call audit events and publisher interfaces.
package events

// Call outcomes.
const (
	OutcomeSucceeded     = "succeeded"
	OutcomeFailed        = "failed"
	OutcomeIndeterminate = "indeterminate"
)

// CallCompletedEvent is emitted when an update call reaches its final outcome.
// Indeterminate means the call was abandoned after being sent and the remote
// mutation may or may not have happened.
type CallCompletedEvent struct {
	ID         string `json:"id"`
	Service    string `json:"service"`
	Method     string `json:"method"`
	Mode       string `json:"mode"`
	Caller     string `json:"caller"`
	Outcome    string `json:"outcome"`
	Code       string `json:"code,omitempty"`
	RemoteCode string `json:"remoteCode,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}
