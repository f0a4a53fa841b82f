package remediation

import "errors"

var (
	ErrInapplicableAction = errors.New("action not applicable to anomaly")
	// ErrExecutor marks executor failures. It ends up in a failed record's
	// detail and is never returned by Execute.
	ErrExecutor = errors.New("remediation executor failed")
)
