package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrCooldownActive means a summary was delivered too recently. The run is
	// suppressed, not broken.
	ErrCooldownActive = errors.New("notification cooldown active")
	// ErrNoAccounts means the bridge returned no account with a non-zero balance.
	ErrNoAccounts = errors.New("no accounts with a non-zero balance")
)

// Stage names a pipeline step.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageFetch     Stage = "fetch"
	StageCooldown  Stage = "cooldown"
	StageSummarize Stage = "summarize"
	StagePersist   Stage = "persist"
)

// StageError reports the single stage a terminated run failed at.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage carried by err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
