package models

import (
	"fmt"
	"time"
)

// Run kinds.
const (
	RunExport = "export"
	RunImport = "import"
)

// Run statuses.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// RunJob records one export or import invocation.
type RunJob struct {
	id             string
	sequence       int
	kind           string
	serverURL      string
	snapshotPath   string
	status         string
	usersTotal     int
	usersSucceeded int
	usersSkipped   int
	usersFailed    int
	errorMessage   string
	startedAt      *time.Time
	completedAt    *time.Time
	createdAt      time.Time
	updatedAt      time.Time
	deletedAt      *time.Time
}

// NewRunJob creates a pending run.
func NewRunJob(sequence int, kind, serverURL, snapshotPath string) *RunJob {
	now := time.Now()
	return &RunJob{
		sequence:     sequence,
		kind:         kind,
		serverURL:    serverURL,
		snapshotPath: snapshotPath,
		status:       RunPending,
		createdAt:    now,
		updatedAt:    now,
	}
}

func (r *RunJob) ID() string              { return r.id }
func (r *RunJob) Sequence() int           { return r.sequence }
func (r *RunJob) Kind() string            { return r.kind }
func (r *RunJob) ServerURL() string       { return r.serverURL }
func (r *RunJob) SnapshotPath() string    { return r.snapshotPath }
func (r *RunJob) Status() string          { return r.status }
func (r *RunJob) UsersTotal() int         { return r.usersTotal }
func (r *RunJob) UsersSucceeded() int     { return r.usersSucceeded }
func (r *RunJob) UsersSkipped() int       { return r.usersSkipped }
func (r *RunJob) UsersFailed() int        { return r.usersFailed }
func (r *RunJob) ErrorMessage() string    { return r.errorMessage }
func (r *RunJob) StartedAt() *time.Time   { return r.startedAt }
func (r *RunJob) CompletedAt() *time.Time { return r.completedAt }
func (r *RunJob) CreatedAt() time.Time    { return r.createdAt }
func (r *RunJob) UpdatedAt() time.Time    { return r.updatedAt }
func (r *RunJob) DeletedAt() *time.Time   { return r.deletedAt }

func (r *RunJob) SetID(id string)               { r.id = id }
func (r *RunJob) SetSequence(seq int)           { r.sequence = seq }
func (r *RunJob) SetStatus(status string)       { r.status = status }
func (r *RunJob) SetErrorMessage(msg string)    { r.errorMessage = msg }
func (r *RunJob) SetStartedAt(t *time.Time)     { r.startedAt = t }
func (r *RunJob) SetCompletedAt(t *time.Time)   { r.completedAt = t }
func (r *RunJob) SetCreatedAt(t time.Time)      { r.createdAt = t }
func (r *RunJob) SetUpdatedAt(t time.Time)      { r.updatedAt = t }
func (r *RunJob) SetDeletedAt(t *time.Time)     { r.deletedAt = t }
func (r *RunJob) SetUsersTotal(n int)           { r.usersTotal = n }
func (r *RunJob) SetUsersSucceeded(n int)       { r.usersSucceeded = n }
func (r *RunJob) SetUsersSkipped(n int)         { r.usersSkipped = n }
func (r *RunJob) SetUsersFailed(n int)          { r.usersFailed = n }
func (r *RunJob) SetSnapshotPath(path string)   { r.snapshotPath = path }
func (r *RunJob) SetServerURL(serverURL string) { r.serverURL = serverURL }

// Start marks the run as running.
func (r *RunJob) Start() {
	now := time.Now()
	r.status = RunRunning
	r.startedAt = &now
}

// Finish records user tallies and derives the final status.
func (r *RunJob) Finish(succeeded, skipped, failed int, err error) {
	now := time.Now()
	r.usersSucceeded = succeeded
	r.usersSkipped = skipped
	r.usersFailed = failed
	r.completedAt = &now
	switch {
	case err != nil:
		r.status = RunFailed
		r.errorMessage = err.Error()
	case skipped > 0 || failed > 0:
		r.status = RunPartial
	default:
		r.status = RunCompleted
	}
}

// Validate checks the run's kind and status.
func (r *RunJob) Validate() error {
	if r.kind != RunExport && r.kind != RunImport {
		return fmt.Errorf("invalid run kind %q", r.kind)
	}
	switch r.status {
	case RunPending, RunRunning, RunCompleted, RunPartial, RunFailed:
	default:
		return fmt.Errorf("invalid run status %q", r.status)
	}
	if r.serverURL == "" {
		return fmt.Errorf("server URL is required")
	}
	return nil
}

// ItemCounts tallies per-item results for one user.
type ItemCounts struct {
	Applied int // at least one mutation issued, or record captured on export
	Gated   int // suppressed by a timestamp gate
	Missing int // no destination item, or unresolvable identity
	Failed  int // remote call failed
}

// Add sums two tallies.
func (c ItemCounts) Add(o ItemCounts) ItemCounts {
	return ItemCounts{
		Applied: c.Applied + o.Applied,
		Gated:   c.Gated + o.Gated,
		Missing: c.Missing + o.Missing,
		Failed:  c.Failed + o.Failed,
	}
}

// UserOutcome records what happened to one user during a run.
type UserOutcome struct {
	id        string
	runID     string
	username  string
	outcome   Outcome
	counts    ItemCounts
	message   string
	createdAt time.Time
	updatedAt time.Time
}

// NewUserOutcome creates an outcome row for username within runID.
func NewUserOutcome(runID, username string, outcome Outcome, counts ItemCounts, message string) *UserOutcome {
	now := time.Now()
	return &UserOutcome{
		runID:     runID,
		username:  username,
		outcome:   outcome,
		counts:    counts,
		message:   message,
		createdAt: now,
		updatedAt: now,
	}
}

func (u *UserOutcome) ID() string           { return u.id }
func (u *UserOutcome) RunID() string        { return u.runID }
func (u *UserOutcome) Username() string     { return u.username }
func (u *UserOutcome) Outcome() Outcome     { return u.outcome }
func (u *UserOutcome) Counts() ItemCounts   { return u.counts }
func (u *UserOutcome) Message() string      { return u.message }
func (u *UserOutcome) CreatedAt() time.Time { return u.createdAt }
func (u *UserOutcome) UpdatedAt() time.Time { return u.updatedAt }

func (u *UserOutcome) SetID(id string)          { u.id = id }
func (u *UserOutcome) SetCreatedAt(t time.Time) { u.createdAt = t }
func (u *UserOutcome) SetUpdatedAt(t time.Time) { u.updatedAt = t }

// Validate checks required fields.
func (u *UserOutcome) Validate() error {
	if u.runID == "" {
		return fmt.Errorf("run ID is required")
	}
	if u.username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}
