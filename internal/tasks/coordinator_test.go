package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobs(names ...string) []UserJob {
	out := make([]UserJob, 0, len(names))
	for i, n := range names {
		out = append(out, UserJob{Account: services.Account{ID: int64(i + 1), Username: n}, Token: n + "-token"})
	}
	return out
}

func TestCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("Outcomes", func(t *testing.T) {
		c := NewCoordinator(2, nil)
		report := c.Run(ctx, jobs("carol", "alice", "bob", "dave"), ImportUser, nil, func(_ context.Context, job UserJob) (UserResult, error) {
			switch job.Username() {
			case "bob":
				return UserResult{}, fmt.Errorf("searching: %w", shared.ErrUnauthorized)
			case "dave":
				return UserResult{Counts: models.ItemCounts{Failed: 1}}, errors.New("boom")
			default:
				return UserResult{Counts: models.ItemCounts{Applied: 2}}, nil
			}
		})

		require.Len(t, report.Results, 4)
		names := []string{}
		for _, r := range report.Results {
			names = append(names, r.Username)
		}
		assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, names, "results are sorted by username")

		assert.Equal(t, models.Skipped, report.Results[1].Outcome)
		assert.Equal(t, "no libraries shared", report.Results[1].Message)
		assert.Equal(t, models.TransientError, report.Results[3].Outcome)
		assert.Equal(t, "boom", report.Results[3].Message)

		assert.Equal(t, 2, report.Succeeded)
		assert.Equal(t, 1, report.Skipped)
		assert.Equal(t, 1, report.Failed)
		assert.True(t, report.Partial())
		assert.Equal(t, models.ItemCounts{Applied: 4, Failed: 1}, report.Counts())
	})

	t.Run("Bounded Parallelism", func(t *testing.T) {
		var running, peak atomic.Int64
		c := NewCoordinator(3, nil)

		names := make([]string, 12)
		for i := range names {
			names[i] = fmt.Sprintf("user%02d", i)
		}
		report := c.Run(ctx, jobs(names...), ExportUser, nil, func(context.Context, UserJob) (UserResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return UserResult{}, nil
		})

		assert.Equal(t, 12, report.Succeeded)
		assert.LessOrEqual(t, peak.Load(), int64(3))
		assert.False(t, report.Partial())
	})

	t.Run("Shuffled Start Order", func(t *testing.T) {
		c := NewCoordinator(1, nil)
		c.shuffle = func(n int, swap func(i, j int)) {
			for i := 0; i < n/2; i++ {
				swap(i, n-1-i)
			}
		}

		var mu sync.Mutex
		var started []string
		c.Run(ctx, jobs("a", "b", "c"), ExportUser, nil, func(_ context.Context, job UserJob) (UserResult, error) {
			mu.Lock()
			started = append(started, job.Username())
			mu.Unlock()
			return UserResult{}, nil
		})
		assert.Equal(t, []string{"c", "b", "a"}, started)
	})

	t.Run("Progress", func(t *testing.T) {
		progress := make(chan ProgressUpdate, 16)
		NewCoordinator(1, nil).Run(ctx, jobs("a", "b"), ImportUser, progress, func(context.Context, UserJob) (UserResult, error) {
			return UserResult{}, nil
		})
		close(progress)

		phases := map[Phase]int{}
		for u := range progress {
			phases[u.Phase]++
			assert.Equal(t, 2, u.Total)
		}
		assert.Equal(t, map[Phase]int{ImportUser: 2, UserDone: 2}, phases)
	})
}
