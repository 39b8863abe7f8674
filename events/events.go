// Package events is the click-event producer (C7): fire-and-forget
// publish onto a partitioned queue, never blocking the redirect path.
package events

import (
	"time"
)

// ClickEvent is the append-only fact recorded for each resolved redirect
// (spec §3). It is immutable once constructed.
type ClickEvent struct {
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	LinkID        int64     `json:"link_id"`
	TenantID      int64     `json:"tenant_id"`
	Code          string    `json:"code"`
	Destination   string    `json:"destination"`
	ClientIP      string    `json:"client_ip"`
	UserAgent     string    `json:"user_agent"`
	Referrer      string    `json:"referrer"`
	Country       string    `json:"country,omitempty"`
	DeviceClass   string    `json:"device_class,omitempty"`
	BrowserFamily string    `json:"browser_family,omitempty"`
	OSFamily      string    `json:"os_family,omitempty"`
}

// Producer publishes click events without blocking the caller (spec §4.7,
// §5 "the event producer ... must not suspend on the redirect path").
type Producer interface {
	Publish(event ClickEvent)
	Stats() Stats
	Close() error
}

// Stats reports the backpressure and delivery counters the spec requires
// to be observable (§4.7: "dropping MUST NOT surface an error ... MUST
// be observable via a metric").
type Stats struct {
	Published int64
	Dropped   int64
	DLQ       int64
}
