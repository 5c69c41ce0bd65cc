package notification

import (
	"time"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// Successful reports whether the status counts as a successful delivery for statistics and archival.
func (s Status) Successful() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusRead
}

// MaxAttempts caps automatic retries.
const MaxAttempts = 3

// SubjectRef is the opaque reference to the notified entity.
type SubjectRef struct {
	Type string `json:"type" validate:"required,max=64"`
	ID   string `json:"id" validate:"required,max=64"`
}

// Actor carries who triggered an operation and the request metadata around it.
type Actor struct {
	Source    Source `json:"source,omitempty"`
	ID        string `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type Source string

const (
	SourceCaller    Source = "caller"
	SourceWebhook   Source = "webhook"
	SourceScheduler Source = "scheduler"
	SourceReport    Source = "report"
)

type Record struct {
	ID                 int64          `json:"id"`
	Subject            SubjectRef     `json:"subject"`
	NotificationTypeID *int64         `json:"notification_type_id,omitempty"`
	TemplateID         *int64         `json:"template_id,omitempty"`
	Channel            Channel        `json:"channel"`
	Recipient          string         `json:"recipient"`
	SubjectLine        string         `json:"subject_line,omitempty"`
	MessageContent     string         `json:"message_content"`
	VariablesUsed      map[string]any `json:"variables_used,omitempty"`
	Status             Status         `json:"status"`
	SentBy             *string        `json:"sent_by,omitempty"`
	RetryCount         int            `json:"retry_count"`
	NextRetryAt        *time.Time     `json:"next_retry_at,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	ProviderResponse   map[string]any `json:"provider_response,omitempty"`
	SentAt             *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	ReadAt             *time.Time     `json:"read_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// TrackingEntry is one immutable audit row of a status transition.
type TrackingEntry struct {
	ID             int64          `json:"id"`
	RecordID       int64          `json:"notification_record_id"`
	Status         Status         `json:"status"`
	TrackedAt      time.Time      `json:"tracked_at"`
	ProviderStatus map[string]any `json:"provider_status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type HistoryFilter struct {
	Channel       *Channel
	Status        *Status
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Page          int
	PageSize      int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize applies the paging defaults.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f HistoryFilter) Offset() int { return (f.Page - 1) * f.PageSize }

type Page struct {
	Items      []*Record `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalCount int       `json:"total_count"`
	TotalPages int       `json:"total_pages"`
}

func NewPage(items []*Record, f HistoryFilter, total int) *Page {
	if items == nil {
		items = []*Record{}
	}
	return &Page{
		Items:      items,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalCount: total,
		TotalPages: (total + f.PageSize - 1) / f.PageSize,
	}
}

type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Bucket is a (key, count) pair used by the top-N aggregations.
type Bucket struct {
	ID    int64 `json:"id"`
	Count int64 `json:"count"`
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
