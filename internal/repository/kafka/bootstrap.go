package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func BootstrapConsumer(ctx context.Context, cfg *ConsumerConfig, logger *zap.Logger) *Consumer {
	_ = EnsureTopic(ctx, cfg.Brokers, TopicSpec{
		Name:              cfg.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
		MaxWait:           5 * time.Second,
	}, logger)

	return NewConsumer(cfg).WithLogger(logger)
}

// BootstrapProducer makes sure the topic exists before the first write.
func BootstrapProducer(ctx context.Context, brokers []string, spec TopicSpec, logger *zap.Logger) *Producer {
	_ = EnsureTopic(ctx, brokers, spec, logger)
	return NewProducer(brokers, spec.Name).WithLogger(logger)
}
