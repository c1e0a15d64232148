package util

import (
	"context"

	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/metrics"
)

// BestEffort is the outcome of a side effect whose failure must not fail the
// operation that triggered it. A nil Err means the step succeeded.
type BestEffort struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (b BestEffort) Failed() bool {
	return b.Err != nil
}

// RunBestEffort executes fn, logs and counts a failure, and returns the outcome
// instead of an error.
func RunBestEffort(ctx context.Context, log *zap.Logger, step string, fn func(ctx context.Context) error) BestEffort {
	err := fn(ctx)
	if err != nil {
		logger.WithTrace(ctx, log).Warn("Best-effort step failed",
			zap.String("step", step),
			zap.Error(err),
		)
		metrics.IncrementBestEffortFailure(step)
	}
	return BestEffort{Step: step, Err: err}
}

// FailedSteps returns the names of failed outcomes.
func FailedSteps(outcomes []BestEffort) []string {
	var failed []string
	for _, o := range outcomes {
		if o.Failed() {
			failed = append(failed, o.Step)
		}
	}
	return failed
}
