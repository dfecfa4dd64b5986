package flow

import (
	"context"
	"errors"

	"lexion/cmd/internal/auth/autherr"
)

// OutcomeOf classifies err into a metrics outcome label.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, autherr.ErrCancelled), errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case autherr.IsNoMatch(err):
		return OutcomeNoMatch
	case autherr.IsLocalValidation(err):
		return OutcomeLocal
	case autherr.IsDeviceAccess(err):
		return OutcomeDevice
	case autherr.IsTransient(err):
		return OutcomeTransient
	case autherr.IsAuthorizationDenied(err), errors.Is(err, autherr.ErrRejected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
