package tasks

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/sourcegraph/conc/pool"
)

const defaultWorkers = 4

// UserJob is one unit of work: a user and that user's token on the server.
type UserJob struct {
	Account services.Account
	Token   string
}

// Username is the snapshot key of the job's account.
func (j UserJob) Username() string { return j.Account.Name() }

// UserResult is the outcome of one [UserJob].
type UserResult struct {
	Username string
	Outcome  models.Outcome // Resolved on success, Skipped or TransientError otherwise
	Counts   models.ItemCounts
	Message  string
	History  *models.UserHistory // set by exports
}

// RunReport collects the results of every user of a run, sorted by username.
type RunReport struct {
	Results   []UserResult
	Succeeded int
	Skipped   int
	Failed    int
}

// Add appends res and updates the tallies.
func (r *RunReport) Add(res UserResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case models.Resolved:
		r.Succeeded++
	case models.Skipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Partial reports whether any user was skipped or failed.
func (r *RunReport) Partial() bool { return r.Skipped > 0 || r.Failed > 0 }

// Counts sums the item tallies of every user.
func (r *RunReport) Counts() models.ItemCounts {
	var total models.ItemCounts
	for _, res := range r.Results {
		total = total.Add(res.Counts)
	}
	return total
}

func (r *RunReport) sort() {
	slices.SortFunc(r.Results, func(a, b UserResult) int {
		return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
}

// UserFunc processes one user. Returning an error wrapping [shared.ErrUnauthorized]
// skips the user; any other error fails it.
type UserFunc func(ctx context.Context, job UserJob) (UserResult, error)

// Coordinator fans user jobs out over a bounded worker pool in random order.
type Coordinator struct {
	workers int
	logger  *log.Logger
	shuffle func(n int, swap func(i, j int))
}

// NewCoordinator creates a coordinator running at most workers users at once.
func NewCoordinator(workers int, logger *log.Logger) *Coordinator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Coordinator{workers: workers, logger: logger, shuffle: rand.Shuffle}
}

// Run executes fn for every job. The order jobs start in is randomized and results are
// collected unordered, then sorted by username for the report.
func (c *Coordinator) Run(ctx context.Context, jobs []UserJob, phase Phase, progress chan<- ProgressUpdate, fn UserFunc) *RunReport {
	order := slices.Clone(jobs)
	c.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	total := len(order)
	var started, done atomic.Int64

	p := pool.NewWithResults[UserResult]().WithMaxGoroutines(c.workers)
	for _, job := range order {
		p.Go(func() UserResult {
			name := job.Username()
			sendProgress(progress, userStartedUpdate(phase, int(started.Add(1)), total, name))

			res := c.runOne(ctx, job, fn)
			sendProgress(progress, userDoneUpdate(int(done.Add(1)), total, res))
			return res
		})
	}

	report := &RunReport{}
	for _, res := range p.Wait() {
		report.Add(res)
	}
	report.sort()
	return report
}

func (c *Coordinator) runOne(ctx context.Context, job UserJob, fn UserFunc) UserResult {
	name := job.Username()
	logger := c.logger.With("user", name)

	res, err := fn(ctx, job)
	res.Username = name
	switch {
	case err == nil:
		res.Outcome = models.Resolved
		logger.Info("user completed", "applied", res.Counts.Applied, "gated", res.Counts.Gated,
			"missing", res.Counts.Missing, "failed", res.Counts.Failed)
	case errors.Is(err, shared.ErrUnauthorized):
		res.Outcome = models.Skipped
		res.Message = "no libraries shared"
		logger.Warn("skipped user with no libraries shared")
	case errors.Is(err, shared.ErrMissingSnapshot):
		res.Outcome = models.Skipped
		res.Message = "missing from snapshot"
		logger.Warn("skipped user missing from snapshot")
	default:
		res.Outcome = models.TransientError
		res.Message = err.Error()
		logger.Error("user failed", "error", err)
	}
	return res
}
