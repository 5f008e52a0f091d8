package model

// DispatchResult summarises one delivery attempt.
type DispatchResult struct {
	SubscriberID string `json:"student_id"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

// DispatchSummary is returned to the admin action that triggered a fan-out.
type DispatchSummary struct {
	DispatchID   string `json:"dispatch_id"`
	Tag          string `json:"tag"`
	SendNum      int    `json:"send_num"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	PrunedCount  int    `json:"pruned_count"`
}

const (
	DispatchSuccess = "SUCCESS"
	DispatchFailed  = "FAILED"
	DispatchPruned  = "PRUNED"
)
