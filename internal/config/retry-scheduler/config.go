package retry_scheduler_config

import (
	"time"

	shared "github.com/NordCoder/Deliverus/internal/config/shared"
	"github.com/NordCoder/Deliverus/internal/outbox"
	amqpx "github.com/NordCoder/Deliverus/internal/repository/amqp"
)

type SchedCfg struct {
	Tick       time.Duration `mapstructure:"tick"`
	BatchLimit int           `mapstructure:"batch_limit"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

type ArchiveCfg struct {
	Enable  bool          `mapstructure:"enable"`
	Every   time.Duration `mapstructure:"every"`
	DaysOld int           `mapstructure:"days_old"`
}

type KafkaOut struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	NumPartitions     int      `mapstructure:"num_partitions"`
	ReplicationFactor int      `mapstructure:"replication_factor"`
}

const (
	DispatchKafka = "kafka"
	DispatchAMQP  = "amqp"
)

type Dispatch struct {
	Driver string       `mapstructure:"driver"`
	Kafka  KafkaOut     `mapstructure:"kafka"`
	AMQP   amqpx.Config `mapstructure:"amqp"`
}

type Config struct {
	shared.Base `mapstructure:",squash"`
	Server      shared.Server `mapstructure:"server"`
	Sched       SchedCfg      `mapstructure:"sched"`
	Archive     ArchiveCfg    `mapstructure:"archive"`
	Outbox      outbox.Config `mapstructure:"outbox"`
	Dispatch    Dispatch      `mapstructure:"dispatch"`
}
