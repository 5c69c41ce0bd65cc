package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var _ notification.RetryPublisher = (*RetryPublisher)(nil)

type Config struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RetryPublisher sends retry_requested events to a durable queue.
type RetryPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    publishChannel
	queue string
	log   *zap.Logger
}

func Dial(cfg Config, log *zap.Logger) (*RetryPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", cfg.Queue, err)
	}
	return &RetryPublisher{
		conn:  conn,
		ch:    ch,
		queue: q.Name,
		log:   log.With(zap.String("component", "amqp.publisher"), zap.String("queue", q.Name)),
	}, nil
}

func (p *RetryPublisher) PublishRetryRequested(ctx context.Context, req notification.RetryRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal retry request: %w", err)
	}

	ctx, span := otel.Tracer("amqp.publisher").Start(ctx, "amqp.publish "+p.queue, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := amqp.Table{}
	for k, v := range carrier {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     fmt.Sprintf("retry:%d:%d", req.NotificationID, req.RetryCount),
		CorrelationId: strconv.FormatInt(req.NotificationID, 10),
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Publish("", p.queue, false, false, msg); err != nil {
		span.RecordError(err)
		p.log.Error("amqp publish failed", zap.Int64("id", req.NotificationID), zap.Error(err))
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func (p *RetryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
