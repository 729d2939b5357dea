package config

type Config interface {
	EnvConfig
	UpstreamConfig
	OAuthConfig
	SecurityConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Upstream
	OAuth
	Security
	Store
}

func New() Config {
	return mainConfig{}
}
