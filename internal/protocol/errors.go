package protocol

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pulse-cli/internal/attestation"
	"github.com/sells-group/pulse-cli/internal/feesplit"
	"github.com/sells-group/pulse-cli/internal/liveness"
	"github.com/sells-group/pulse-cli/internal/params"
	"github.com/sells-group/pulse-cli/internal/reliability"
)

// ErrInvalidCaller is returned for a mutating call without a caller identity.
var ErrInvalidCaller = eris.New("invalid caller")

// ErrorClass groups protocol errors by how a caller should react.
type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassAuthorization ErrorClass = "authorization"
	ClassRateLimit     ErrorClass = "rate_limit"
	ClassOperational   ErrorClass = "operational"
	ClassTransfer      ErrorClass = "transfer"
	ClassUnknown       ErrorClass = "unknown"
)

// TransferError wraps a payment-asset failure. The enclosing operation
// recorded nothing.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return "transfer failed: " + e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

var classes = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassValidation, []error{
		liveness.ErrBelowMinimumSignal,
		liveness.ErrInvalidHazardScore,
		params.ErrInvalidTTL,
		params.ErrInvalidMinSignalAmount,
		params.ErrInvalidAssetDecimals,
		params.ErrInvalidAddress,
		feesplit.ErrFeeRoundsToZero,
		feesplit.ErrBelowMinimumBurn,
		feesplit.ErrInvalidFeeBps,
		feesplit.ErrInvalidDestination,
		reliability.ErrInvalidAmount,
		reliability.ErrInsufficientStake,
		reliability.ErrInvalidScaling,
		reliability.ErrInvalidTierThresholds,
	}},
	{ClassAuthorization, []error{
		params.ErrUnauthorized,
		attestation.ErrAttestorNotRegistered,
		attestation.ErrSubjectNotRegistered,
		attestation.ErrSelfAttestation,
		ErrInvalidCaller,
	}},
	{ClassRateLimit, []error{
		attestation.ErrMaxAttestationsReached,
		attestation.ErrDuplicatePair,
	}},
	{ClassOperational, []error{
		liveness.ErrProtocolPaused,
	}},
}

// Classify maps err onto its error class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var te *TransferError
	if errors.As(err, &te) {
		return ClassTransfer
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}

// IsTransient reports whether err clears on its own at the next epoch.
func IsTransient(err error) bool {
	return Classify(err) == ClassRateLimit
}
