package report_consumer_config

import (
	shared "github.com/NordCoder/Deliverus/internal/config/shared"
)

func Load(path string) (*Config, error) {
	v := shared.NewViper(path, "report-consumer")

	v.SetDefault("server.metrics_addr", ":8084")

	v.SetDefault("kafka_in.brokers", []string{"localhost:9094"})
	v.SetDefault("kafka_in.topic", "deliverus.delivery.reports")
	v.SetDefault("kafka_in.group_id", "report-consumer")
	v.SetDefault("kafka_in.from_beginning", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.In.Brokers) == 0 || cfg.In.Topic == "" {
		return nil, shared.ErrConfig("kafka_in needs brokers and topic")
	}
	return &cfg, nil
}
