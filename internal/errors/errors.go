package errors

import (
	"errors"
	"fmt"
)

// Common error types for the gateway auth core
var (
	// Protocol errors returned to downstream clients
	ErrInvalidGrant     = errors.New("invalid grant")
	ErrInvalidClient    = errors.New("invalid client")
	ErrFlowExpired      = errors.New("authorization flow expired")
	ErrDomainNotAllowed = errors.New("account domain not allowed")

	// Token errors
	ErrInvalidToken             = errors.New("invalid token")
	ErrTokenExpired             = errors.New("token expired")
	ErrRevoked                  = errors.New("upstream credential revoked")
	ErrReauthenticationRequired = errors.New("reauthentication required")
	ErrRateLimited              = errors.New("rate limited by upstream")

	// Storage and crypto errors
	ErrNotFound         = errors.New("not found")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrConditionFailed  = errors.New("conditional write failed")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
