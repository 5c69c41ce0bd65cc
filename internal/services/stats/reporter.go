package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTopN = 5
	MaxTopN     = 50
)

var (
	allStatuses = []notification.Status{
		notification.StatusPending, notification.StatusSent, notification.StatusDelivered,
		notification.StatusRead, notification.StatusFailed,
	}
	allChannels = []notification.Channel{
		notification.ChannelWhatsApp, notification.ChannelEmail, notification.ChannelSMS,
	}
)

type Report struct {
	From                 *time.Time                     `json:"from,omitempty"`
	To                   *time.Time                     `json:"to,omitempty"`
	Total                int64                          `json:"total"`
	ByStatus             map[notification.Status]int64  `json:"by_status"`
	ByChannel            map[notification.Channel]int64 `json:"by_channel"`
	SuccessRate          float64                        `json:"success_rate"`
	CurrentlyFailed      int64                          `json:"currently_failed"`
	PermanentlyFailed    int64                          `json:"permanently_failed"`
	TopTemplates         []notification.Bucket          `json:"top_templates"`
	TopNotificationTypes []notification.Bucket          `json:"top_notification_types"`
	GeneratedAt          time.Time                      `json:"generated_at"`
}

// Cache stores finished reports. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*Report, bool, error)
	Set(ctx context.Context, key string, r *Report, ttl time.Duration) error
}

type Reporter struct {
	repo  notification.StatsRepo
	cache Cache
	ttl   time.Duration
	clk   notification.Clock
	log   *zap.Logger
}

// New builds a reporter. cache may be nil.
func New(repo notification.StatsRepo, cache Cache, ttl time.Duration, clk notification.Clock, log *zap.Logger) *Reporter {
	if clk == nil {
		clk = notification.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{repo: repo, cache: cache, ttl: ttl, clk: clk, log: log}
}

func CacheKey(dr notification.DateRange, topN int) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("stats:v1:%s:%s:%d", bound(dr.From), bound(dr.To), topN)
}

// Report aggregates records created inside dr. The failed counters ignore the range.
func (r *Reporter) Report(ctx context.Context, dr notification.DateRange, topN int) (*Report, error) {
	if dr.From != nil && dr.To != nil && dr.From.After(*dr.To) {
		return nil, fmt.Errorf("%w: range start after end", notification.ErrInvalidArgument)
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	if topN > MaxTopN {
		topN = MaxTopN
	}

	ctx, span := otel.Tracer("stats.reporter").Start(ctx, "stats.report",
		trace.WithAttributes(attribute.Int("stats.top_n", topN)),
	)
	defer span.End()

	key := CacheKey(dr, topN)
	if r.cache != nil && r.ttl > 0 {
		cached, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			obs.WithTrace(ctx, r.log).Warn("stats cache get", zap.String("key", key), zap.Error(err))
		case ok:
			span.SetAttributes(attribute.Bool("stats.cached", true))
			return cached, nil
		}
	}

	rep, err := r.compute(ctx, dr, topN)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if r.cache != nil && r.ttl > 0 {
		if err := r.cache.Set(ctx, key, rep, r.ttl); err != nil {
			obs.WithTrace(ctx, r.log).Warn("stats cache set", zap.String("key", key), zap.Error(err))
		}
	}
	return rep, nil
}

func (r *Reporter) compute(ctx context.Context, dr notification.DateRange, topN int) (*Report, error) {
	byStatus, err := r.repo.CountByStatus(ctx, dr)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	byChannel, err := r.repo.CountByChannel(ctx, dr)
	if err != nil {
		return nil, fmt.Errorf("count by channel: %w", err)
	}
	current, permanent, err := r.repo.CountFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}
	templates, err := r.repo.TopTemplates(ctx, dr, topN)
	if err != nil {
		return nil, fmt.Errorf("top templates: %w", err)
	}
	types, err := r.repo.TopNotificationTypes(ctx, dr, topN)
	if err != nil {
		return nil, fmt.Errorf("top notification types: %w", err)
	}

	rep := &Report{
		From:                 dr.From,
		To:                   dr.To,
		ByStatus:             make(map[notification.Status]int64, len(allStatuses)),
		ByChannel:            make(map[notification.Channel]int64, len(allChannels)),
		CurrentlyFailed:      current,
		PermanentlyFailed:    permanent,
		TopTemplates:         nonNil(templates),
		TopNotificationTypes: nonNil(types),
		GeneratedAt:          r.clk.Now(),
	}
	var successful int64
	for _, s := range allStatuses {
		n := byStatus[s]
		rep.ByStatus[s] = n
		rep.Total += n
		if s.Successful() {
			successful += n
		}
	}
	for _, c := range allChannels {
		rep.ByChannel[c] = byChannel[c]
	}
	if rep.Total > 0 {
		rep.SuccessRate = float64(successful) / float64(rep.Total)
	}
	return rep, nil
}

func nonNil(b []notification.Bucket) []notification.Bucket {
	if b == nil {
		return []notification.Bucket{}
	}
	return b
}
