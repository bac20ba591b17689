package model

import "time"

// OutboxEvent is a lifecycle event whose direct publication failed and is
// waiting for the relay to deliver it.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Topic       string    `gorm:"size:128;not null"`
	AggregateID string    `gorm:"size:36;not null;index"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	Attempts    int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
