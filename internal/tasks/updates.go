package tasks

import (
	"fmt"

	"github.com/desertthunder/wsx/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchUsers Phase = iota
	WarmCache
	ExportUser
	ImportUser
	UserDone
	Finished
)

func (p Phase) String() string {
	switch p {
	case FetchUsers:
		return "fetch_users"
	case WarmCache:
		return "warm_cache"
	case ExportUser:
		return "export_user"
	case ImportUser:
		return "import_user"
	case UserDone:
		return "user_done"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchUsersUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchUsers,
		Step:    1,
		Total:   1,
		Message: "Fetching owner and users from plex.tv...",
	}
}

func foundUsersUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchUsers,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d users to process", total),
	}
}

func warmCacheUpdate(server string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WarmCache,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Building cache for %s...", server),
	}
}

func userStartedUpdate(phase Phase, step, total int, username string) ProgressUpdate {
	verb := "Exporting"
	if phase == ImportUser {
		verb = "Importing"
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s...", step, total, verb, username),
	}
}

func userDoneUpdate(step, total int, res UserResult) ProgressUpdate {
	var message string
	switch res.Outcome {
	case models.Resolved:
		message = fmt.Sprintf("[%d/%d] ✓ %s (%d applied, %d gated, %d missing, %d failed)",
			step, total, res.Username, res.Counts.Applied, res.Counts.Gated, res.Counts.Missing, res.Counts.Failed)
	case models.Skipped:
		message = fmt.Sprintf("[%d/%d] - %s skipped: %s", step, total, res.Username, res.Message)
	default:
		message = fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, res.Username, res.Message)
	}
	return ProgressUpdate{
		Phase:   UserDone,
		Step:    step,
		Total:   total,
		Message: message,
		Data:    res,
	}
}

func finishedUpdate(report *RunReport) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Completed: %d succeeded, %d skipped, %d failed", report.Succeeded, report.Skipped, report.Failed),
		Data:    report,
	}
}
