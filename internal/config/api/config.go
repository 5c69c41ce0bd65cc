package api_config

import (
	"time"

	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	redisstore "github.com/NordCoder/Deliverus/internal/repository/redis"
)

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Stats struct {
	Cache bool              `mapstructure:"cache"`
	Redis redisstore.Config `mapstructure:"redis"`
}

type Config struct {
	shared.Base `mapstructure:",squash"`
	Server      Server `mapstructure:"server"`
	Stats       Stats  `mapstructure:"stats"`
}
