package config

import "time"

type SecurityConfig interface {
	GetMasterSecret() string
	GetBearerTokenTTL() time.Duration
	GetMaxSessionAge() time.Duration
	GetRefreshThreshold() time.Duration
	GetLockTTL() time.Duration
	GetLockRetryAttempts() int
	GetLockRetryDelay() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetMasterSecret returns the secret the envelope key service derives its
// key-wrapping key from. In production this comes from the deployment's
// secret manager, never from a checked-in default.
func (Security) GetMasterSecret() string {
	return GetEnv("MASTER_SECRET", "")
}

func (Security) GetBearerTokenTTL() time.Duration {
	return 7 * 24 * time.Hour // 7 days
}

// GetMaxSessionAge bounds how old a bearer session may be before the user
// must re-authenticate, independent of upstream token freshness.
func (Security) GetMaxSessionAge() time.Duration {
	return 7 * 24 * time.Hour
}

func (Security) GetRefreshThreshold() time.Duration {
	return 5 * time.Minute
}

func (Security) GetLockTTL() time.Duration {
	return 30 * time.Second
}

func (Security) GetLockRetryAttempts() int {
	return 5
}

func (Security) GetLockRetryDelay() time.Duration {
	return 200 * time.Millisecond
}
