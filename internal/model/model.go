// Package model defines the core domain types for layered event access.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/reveal"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// Event is a gathering whose details are progressively revealed.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	// City and Area are always visible.
	City string `json:"city"`
	Area string `json:"area"`

	VenueName    string `json:"venue_name,omitempty"`
	VenueAddress string `json:"venue_address,omitempty"`

	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	// Capacity nil or <= 0 means unlimited.
	Capacity         *int         `json:"capacity,omitempty"`
	RequiredTier     tier.Tier    `json:"required_tier"`
	RequiresReview   bool         `json:"requires_review"`
	ReputationPoints int          `json:"reputation_points"`
	Reveal           RevealConfig `json:"reveal"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Unlimited reports whether the event has no capacity cap.
func (e *Event) Unlimited() bool {
	return e.Capacity == nil || *e.Capacity <= 0
}

// Started reports whether the event has begun at now.
func (e *Event) Started(now time.Time) bool {
	return !now.Before(e.StartsAt)
}

// RevealConfig is the per-event disclosure schedule.
type RevealConfig struct {
	TimeRevealHoursBefore     int       `json:"time_reveal_hours_before"`
	LocationRevealHoursBefore int       `json:"location_reveal_hours_before"`
	LocationTier              tier.Tier `json:"location_tier"`
}

// DefaultRevealConfig is applied when an event is created without one.
func DefaultRevealConfig() RevealConfig {
	return RevealConfig{
		TimeRevealHoursBefore:     int(reveal.DefaultTimeRevealBefore / time.Hour),
		LocationRevealHoursBefore: int(reveal.DefaultLocationRevealBefore / time.Hour),
		LocationTier:              tier.Initiate,
	}
}

// Engine converts the stored hours into the reveal engine's configuration.
func (r RevealConfig) Engine(window time.Duration) reveal.Config {
	return reveal.Config{
		TimeRevealBefore:     time.Duration(r.TimeRevealHoursBefore) * time.Hour,
		LocationRevealBefore: time.Duration(r.LocationRevealHoursBefore) * time.Hour,
		Window:               window,
		LocationTier:         r.LocationTier,
	}
}

// Urgency buckets how close an event is to full.
type Urgency string

const (
	UrgencyNone   Urgency = "none"
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
	UrgencyFull   Urgency = "full"
)

// CapacityInfo is derived from passes on every read; it is never stored.
type CapacityInfo struct {
	Capacity       *int    `json:"capacity,omitempty"`
	Confirmed      int     `json:"confirmed"`
	Waitlisted     int     `json:"waitlisted"`
	SpotsRemaining *int    `json:"spots_remaining,omitempty"`
	Unlimited      bool    `json:"unlimited"`
	IsFull         bool    `json:"is_full"`
	PercentFull    int     `json:"percent_full"`
	Urgency        Urgency `json:"urgency"`
}

// NewCapacityInfo derives capacity state from pass counts.
func NewCapacityInfo(capacity *int, confirmed, waitlisted int) CapacityInfo {
	info := CapacityInfo{Confirmed: confirmed, Waitlisted: waitlisted, Urgency: UrgencyNone}
	if capacity == nil || *capacity <= 0 {
		info.Unlimited = true
		return info
	}
	c := *capacity
	remaining := max(c-confirmed, 0)
	info.Capacity = &c
	info.SpotsRemaining = &remaining
	info.IsFull = confirmed >= c
	info.PercentFull = min(int(math.Round(100*float64(confirmed)/float64(c))), 100)

	switch pct := info.PercentFull; {
	case info.IsFull:
		info.Urgency = UrgencyFull
	case pct >= 90:
		info.Urgency = UrgencyHigh
	case pct >= 75:
		info.Urgency = UrgencyMedium
	case pct >= 50:
		info.Urgency = UrgencyLow
	}
	return info
}

// EventStats summarises passes and requests for operators.
type EventStats struct {
	EventID         uuid.UUID          `json:"event_id"`
	ByStatus        map[PassStatus]int `json:"by_status"`
	PendingRequests int                `json:"pending_requests"`
	Capacity        CapacityInfo       `json:"capacity"`
}

// MemberStats is the stat triple a member's tier derives from.
type MemberStats = tier.Stats

// BulkError explains why one id in a batch was not processed.
type BulkError struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// BulkResult is the outcome of a batch decision.
type BulkResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors"`
}

// Fail records one failed item.
func (r *BulkResult) Fail(id uuid.UUID, reason string) {
	r.Failed++
	r.Errors = append(r.Errors, BulkError{ID: id, Reason: reason})
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	City             string        `json:"city"`
	Area             string        `json:"area"`
	VenueName        string        `json:"venue_name"`
	VenueAddress     string        `json:"venue_address"`
	StartsAt         time.Time     `json:"starts_at"`
	EndsAt           *time.Time    `json:"ends_at,omitempty"`
	Capacity         *int          `json:"capacity,omitempty"`
	RequiredTier     tier.Tier     `json:"required_tier"`
	RequiresReview   bool          `json:"requires_review"`
	ReputationPoints int           `json:"reputation_points"`
	Reveal           *RevealConfig `json:"reveal,omitempty"`
}
