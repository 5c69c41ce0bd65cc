package main

import (
	"context"
	"fmt"
	"time"

	config "github.com/NordCoder/Deliverus/internal/config/retry-scheduler"
	"github.com/NordCoder/Deliverus/internal/domain/notification"
	amqpx "github.com/NordCoder/Deliverus/internal/repository/amqp"
	"github.com/NordCoder/Deliverus/internal/repository/kafka"
	"go.uber.org/zap"
)

func initPublisher(ctx context.Context, cfg *config.Config, l *zap.Logger) (notification.RetryPublisher, func(), error) {
	switch cfg.Dispatch.Driver {
	case config.DispatchAMQP:
		p, err := amqpx.Dial(cfg.Dispatch.AMQP, l)
		if err != nil {
			return nil, nil, err
		}
		l.Info("amqp publisher initialized", zap.String("queue", cfg.Dispatch.AMQP.Queue))
		return p, func() { _ = p.Close() }, nil
	case config.DispatchKafka:
		k := cfg.Dispatch.Kafka
		p := kafka.BootstrapProducer(ctx, k.Brokers, kafka.TopicSpec{
			Name:              k.Topic,
			NumPartitions:     k.NumPartitions,
			ReplicationFactor: k.ReplicationFactor,
			MaxWait:           5 * time.Second,
		}, l)
		l.Info("kafka producer initialized", zap.Strings("brokers", k.Brokers), zap.String("topic", k.Topic))
		return kafka.NewRetryEventsKafka(p), func() { _ = p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown dispatch driver %q", cfg.Dispatch.Driver)
}
