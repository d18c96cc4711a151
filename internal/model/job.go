package model

// Job is one tracked execution of a GenerationRequest. The record is
// created at submission time with status=queued and mutated only by the
// worker currently holding its lease. The progress log is append-only;
// readers never observe a truncated or reordered history.
type Job struct {
	ID              string            `json:"id"`
	Status          Status            `json:"status"`
	Request         GenerationRequest `json:"request"`
	ProgressUpdates []ProgressUpdate  `json:"progress_updates"`
	Result          *GeneratedContent `json:"result,omitempty"`
	Error           *string           `json:"error,omitempty"`
	Attempts        int               `json:"attempts"`
	LeaseOwner      *string           `json:"lease_owner,omitempty"`
	LeaseExpiresAt  *string           `json:"lease_expires_at,omitempty"`
	LeaseEpoch      int               `json:"lease_epoch"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// ProgressUpdate describes stage entry or completion. Immutable once
// appended. TotalStages is fixed at job start from the enabled feature
// flags; Percentage is non-decreasing across a job's log.
type ProgressUpdate struct {
	ID            string   `json:"id,omitempty"`
	StageName     string   `json:"stage_name"`
	StageNumber   int      `json:"stage_number"`
	TotalStages   int      `json:"total_stages"`
	Percentage    float64  `json:"percentage"`
	StatusMessage string   `json:"status_message"`
	Details       []string `json:"details,omitempty"`
	Timestamp     string   `json:"timestamp"`
}
