package report_consumer_config

import (
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/repository/kafka"
)

type Config struct {
	shared.Base `mapstructure:",squash"`
	Server      shared.Server        `mapstructure:"server"`
	In          kafka.ConsumerConfig `mapstructure:"kafka_in"`
}
