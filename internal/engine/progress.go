package engine

import (
	"context"
	"math"
)

// RecomputeProgress derives a project's completion percentage from its
// current task rows and writes it back. A project with no tasks is 0%, not
// a division error. Unlike the rest of the pipeline's side effects this
// returns its failure, wrapped as TransientError, so callers can decide
// whether to retry or shrug.
func (e Engine) RecomputeProgress(ctx context.Context, projectID string) (int, error) {
	total, err := e.Repo.CountTasks(ctx, projectID, "")
	if err != nil {
		return 0, TransientError{Op: "count tasks", Err: err}
	}
	done, err := e.Repo.CountTasks(ctx, projectID, "done")
	if err != nil {
		return 0, TransientError{Op: "count done tasks", Err: err}
	}
	progress := 0
	if total > 0 {
		progress = int(math.Round(float64(done) / float64(total) * 100))
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := e.Repo.SetProgress(ctx, projectID, progress); err != nil {
		return 0, TransientError{Op: "store progress", Err: err}
	}
	return progress, nil
}
