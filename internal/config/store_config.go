package config

type StoreConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return 0
}
