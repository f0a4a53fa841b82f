package remediation

import (
	"context"

	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
)

// Target is what an executor acts on: the anomaly snapshot taken when the
// remediation started.
type Target struct {
	AnomalyID string
	Namespace string
	PodName   string
	NodeName  string
	Kind      anomaly.Kind
	Severity  anomaly.Severity
}

// Executor applies one action against the cluster. Implementations must
// honour ctx: the Dispatcher bounds every call with a deadline and treats
// expiry as failure. The returned string is a human readable detail.
type Executor interface {
	Execute(ctx context.Context, action Action, target Target) (string, error)
}

type ExecutorFunc func(ctx context.Context, action Action, target Target) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, action Action, target Target) (string, error) {
	return f(ctx, action, target)
}

// DryRunExecutor logs the action it would take and reports success.
type DryRunExecutor struct {
	Logger *zap.Logger
}

func (d DryRunExecutor) Execute(ctx context.Context, action Action, target Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("dry run remediation",
		zap.String("action", action.ID),
		zap.String("namespace", target.Namespace),
		zap.String("pod", target.PodName),
		zap.String("anomaly", target.AnomalyID))
	return "dry run: " + action.ID + " on " + target.Namespace + "/" + target.PodName, nil
}
