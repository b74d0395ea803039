package issuance

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation is returned for invalid user input; it is always returned
	// before any remote call is made
	ErrValidation = errors.New("validation failed")
	// ErrStepInProgress is returned when a step is requested while another step
	// of the same run is still executing
	ErrStepInProgress = errors.New("another step of this issuance is in progress")
	// ErrRunNotFound is returned for unknown or expired runs
	ErrRunNotFound = errors.New("issuance not found")
	// ErrWrongStep is returned when an action does not fit the current step
	ErrWrongStep = errors.New("action not possible in the current step")
	// ErrReceiptMismatch is returned when a mint receipt does not belong to the
	// certificate it is finalized for
	ErrReceiptMismatch = errors.New("transaction does not mint this certificate")
)

func validationError(msg string) error {
	return errors.Wrap(ErrValidation, msg)
}

func wrongStep(current Step, action string) error {
	return errors.Wrapf(ErrWrongStep, "cannot %s while %s", action, current)
}
