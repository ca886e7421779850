package domain

import "time"

// DeliveryStatus is the lifecycle state of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryLogEntry is the durable record of one attempt to reach one channel.
// It is created pending before the transport call and updated afterwards.
type DeliveryLogEntry struct {
	ID           string
	EventType    EventType
	Platform     Platform
	ChannelID    string
	Payload      map[string]any
	Status       DeliveryStatus
	ErrorMessage string
	SentAt       *time.Time
	CreatedAt    time.Time
}

// SendLedgerEntry is written only after a confirmed send and backs deduplication.
type SendLedgerEntry struct {
	ChannelID  string
	EventType  EventType
	EntityType EntityType
	EntityID   string
	CouponCode string
	SentAt     time.Time
}

// DeliveryStats aggregates delivery rows since a point in time.
type DeliveryStats struct {
	Since      time.Time                   `json:"since"`
	Total      int                         `json:"total"`
	ByStatus   map[DeliveryStatus]int      `json:"by_status"`
	ByPlatform map[Platform]map[string]int `json:"by_platform"`
}

func NewDeliveryStats(since time.Time) DeliveryStats {
	return DeliveryStats{Since: since, ByStatus: map[DeliveryStatus]int{}, ByPlatform: map[Platform]map[string]int{}}
}

// Add accumulates n rows of the given platform and status.
func (s *DeliveryStats) Add(p Platform, status DeliveryStatus, n int) {
	if s.ByStatus == nil {
		s.ByStatus = map[DeliveryStatus]int{}
	}
	if s.ByPlatform == nil {
		s.ByPlatform = map[Platform]map[string]int{}
	}
	s.Total += n
	s.ByStatus[status] += n
	m := s.ByPlatform[p]
	if m == nil {
		m = map[string]int{}
		s.ByPlatform[p] = m
	}
	m[string(status)] += n
}
