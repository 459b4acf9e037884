package domain

import "time"

// Phase is the server-reported lifecycle state of a UWS job.
type Phase string

// UWS job phases. The server owns transitions; the client only observes them.
const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"
	PhaseHeld      Phase = "HELD"
	PhaseSuspended Phase = "SUSPENDED"
	PhaseUnknown   Phase = "UNKNOWN"
)

// IsTerminal reports whether no further transitions can happen.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseAborted:
		return true
	}
	return false
}

// Query defaults used by the Millennium TAP service.
const (
	DefaultLang   = "SQL"
	DefaultFormat = "csv"
	DefaultMaxRec = 100000
)

// QueryRequest describes a query submission. It is not modified after submit.
type QueryRequest struct {
	Lang   string
	Format string
	MaxRec int
	Query  string
}

// Job identifies a submitted UWS job. Phase is not stored here; it is
// always fetched from the server.
type Job struct {
	ID  string
	URL string
}

// JobRecord is the locally persisted view of a submitted job.
type JobRecord struct {
	ID           string    `json:"id"`
	JobURL       string    `json:"job_url"`
	BaseURL      string    `json:"base_url"`
	Query        string    `json:"query"`
	Lang         string    `json:"lang"`
	Format       string    `json:"format"`
	MaxRec       int       `json:"maxrec"`
	Phase        Phase     `json:"phase"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	ResultPath   *string   `json:"result_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
