package anomaly

import "errors"

var (
	ErrNotFound         = errors.New("anomaly not found")
	ErrAlreadyResolved  = errors.New("anomaly already resolved")
	ErrNotInvestigating = errors.New("anomaly is not under investigation")
)
