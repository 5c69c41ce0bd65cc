package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/NordCoder/Deliverus/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

// ErrMalformed marks messages that can never be handled. They are committed and skipped.
var ErrMalformed = errors.New("malformed message")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader  messageReader
	log     *zap.Logger
	cfg     *ConsumerConfig
	backoff retry.Backoff
}

// defaultHandlerBackoff paces in-place redelivery of a message whose handler failed.
var defaultHandlerBackoff = retry.ExpoJitter{Base: 200 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2}

type ConsumerConfig struct {
	Brokers       []string    `mapstructure:"brokers"`
	GroupID       string      `mapstructure:"group_id"`
	Topic         string      `mapstructure:"topic"`
	FromBeginning bool        `mapstructure:"from_beginning"`
	Logger        *zap.Logger `mapstructure:"-"`
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	log := cfg.Logger.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)

	return &Consumer{reader: r, log: log, cfg: cfg, backoff: defaultHandlerBackoff}
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = l.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
	return &cp
}

func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	log := c.log
	log.Info("consumer started")

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopped (ctx canceled)")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopped (ctx canceled)")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				log.Debug("fetch EOF; retry", zap.Duration("backoff", backoff))
			} else {
				log.Warn("fetch failed; retry", zap.Error(err), zap.Duration("backoff", backoff))
			}
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = 200 * time.Millisecond

		if err := c.handle(ctx, msg, h); err != nil {
			log.Info("consumer stopped (ctx canceled)", zap.Int64("uncommitted_offset", msg.Offset))
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

// handle runs h on msg until it succeeds, reports ErrMalformed or ctx ends.
// Only ctx errors are returned; the caller must not commit msg or anything after it then.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, h Handler) error {
	b := c.backoff
	if b == nil {
		b = defaultHandlerBackoff
	}
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, mapCarrierFromKafka(msg.Headers))

	for attempt := 0; ; attempt++ {
		err := h(msgCtx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformed) {
			c.log.Warn("skipping malformed message", zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}

		wait := b.Next(attempt)
		c.log.Error("handler error; retrying message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }
