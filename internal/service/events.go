package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/reveal"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

const maxCapacity = 100000

// EventService creates events and renders them through the reveal rules.
type EventService struct {
	events EventStore
	passes PassStore
	tiers  TierSource
	window time.Duration
	log    *zap.Logger
	now    func() time.Time
}

func NewEventService(events EventStore, passes PassStore, tiers TierSource, window time.Duration, log *zap.Logger, opts ...Option) *EventService {
	o := buildOptions(opts)
	return &EventService{
		events: events,
		passes: passes,
		tiers:  tiers,
		window: window,
		log:    log.Named("events"),
		now:    o.now,
	}
}

// Create validates and stores a new event. A missing reveal schedule gets
// the defaults.
func (s *EventService) Create(ctx context.Context, req model.CreateEventRequest) (model.Event, error) {
	if err := validateEvent(req); err != nil {
		return model.Event{}, err
	}

	rc := model.DefaultRevealConfig()
	if req.Reveal != nil {
		rc = *req.Reveal
	}

	e := model.Event{
		ID:               uuid.New(),
		Name:             strings.TrimSpace(req.Name),
		Description:      strings.TrimSpace(req.Description),
		City:             strings.TrimSpace(req.City),
		Area:             strings.TrimSpace(req.Area),
		VenueName:        strings.TrimSpace(req.VenueName),
		VenueAddress:     strings.TrimSpace(req.VenueAddress),
		StartsAt:         req.StartsAt.UTC(),
		EndsAt:           req.EndsAt,
		Capacity:         req.Capacity,
		RequiredTier:     req.RequiredTier,
		RequiresReview:   req.RequiresReview,
		ReputationPoints: req.ReputationPoints,
		Reveal:           rc,
		CreatedAt:        s.now(),
	}
	if err := s.events.CreateEvent(ctx, e); err != nil {
		return model.Event{}, apperr.Normalize(err)
	}
	s.log.Info("event created", zap.String("event_id", e.ID.String()), zap.String("name", e.Name))
	return e, nil
}

func validateEvent(req model.CreateEventRequest) error {
	invalid := func(msg string) error { return apperr.New(apperr.CodeInvalidInput, msg) }
	switch {
	case strings.TrimSpace(req.Name) == "":
		return invalid("name is required")
	case strings.TrimSpace(req.City) == "":
		return invalid("city is required")
	case req.StartsAt.IsZero():
		return invalid("starts_at is required")
	case req.EndsAt != nil && !req.EndsAt.After(req.StartsAt):
		return invalid("ends_at must be after starts_at")
	case req.Capacity != nil && *req.Capacity > maxCapacity:
		return invalid("capacity cannot exceed 100000")
	case !req.RequiredTier.Valid():
		return invalid("required_tier is not a known tier")
	case req.ReputationPoints < 0:
		return invalid("reputation_points cannot be negative")
	}
	if rc := req.Reveal; rc != nil {
		switch {
		case rc.TimeRevealHoursBefore < 0 || rc.LocationRevealHoursBefore < 0:
			return invalid("reveal offsets cannot be negative")
		case rc.LocationRevealHoursBefore > rc.TimeRevealHoursBefore:
			return invalid("location cannot be revealed before time")
		case !rc.LocationTier.Valid():
			return invalid("reveal.location_tier is not a known tier")
		}
	}
	return nil
}

// EventView is what a requester is allowed to see of an event right now.
type EventView struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	City           string    `json:"city"`
	Area           string    `json:"area"`
	RequiredTier   tier.Tier `json:"required_tier"`
	RequiresReview bool      `json:"requires_review"`

	// Gated by the time reveal.
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	// Gated by the location reveal.
	VenueName    string `json:"venue_name,omitempty"`
	VenueAddress string `json:"venue_address,omitempty"`

	Reveal   RevealView          `json:"reveal"`
	Capacity *model.CapacityInfo `json:"capacity,omitempty"`
	Pass     *model.EventPass    `json:"pass,omitempty"`
}

// RevealView is the disclosure state with countdowns in milliseconds.
type RevealView struct {
	State                 reveal.State  `json:"state"`
	TimeRevealed          bool          `json:"time_revealed"`
	LocationRevealed      bool          `json:"location_revealed"`
	TierSufficient        bool          `json:"tier_sufficient"`
	LocationTier          tier.Tier     `json:"location_tier"`
	WithheldBecause       reveal.Reason `json:"withheld_because,omitempty"`
	MsUntilTimeReveal     int64         `json:"ms_until_time_reveal"`
	MsUntilLocationReveal *int64        `json:"ms_until_location_reveal,omitempty"`
	MsUntilStart          int64         `json:"ms_until_start"`
}

// List renders every event for userID. Capacity and pass are left out of
// list entries.
func (s *EventService) List(ctx context.Context, userID uuid.UUID) ([]EventView, error) {
	events, err := readOnce(ctx, s.events.ListEvents)
	if err != nil {
		return nil, err
	}
	t := tierOrOutside(ctx, s.tiers, userID)
	now := s.now()

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, s.render(e, t, now))
	}
	return views, nil
}

// Detail renders one event with its capacity and the requester's pass.
func (s *EventService) Detail(ctx context.Context, eventID, userID uuid.UUID) (EventView, error) {
	e, err := readOnce(ctx, func(ctx context.Context) (model.Event, error) {
		return s.events.GetEvent(ctx, eventID)
	})
	if err != nil {
		return EventView{}, err
	}

	v := s.render(e, tierOrOutside(ctx, s.tiers, userID), s.now())

	counts, err := readOnce(ctx, func(ctx context.Context) (map[model.PassStatus]int, error) {
		return s.passes.PassCounts(ctx, eventID)
	})
	if err != nil {
		return EventView{}, err
	}
	info := capacityFrom(e, counts)
	v.Capacity = &info

	if userID != uuid.Nil {
		pass, err := readOnce(ctx, func(ctx context.Context) (*model.EventPass, error) {
			return s.passes.ActivePass(ctx, userID, eventID)
		})
		if err != nil {
			return EventView{}, err
		}
		v.Pass = pass
	}
	return v, nil
}

func (s *EventService) render(e model.Event, t tier.Tier, now time.Time) EventView {
	d := reveal.Compute(reveal.Input{
		Config:     e.Reveal.Engine(s.window),
		EventStart: e.StartsAt,
		Tier:       t,
		Now:        now,
	})

	v := EventView{
		ID:             e.ID,
		Name:           e.Name,
		Description:    e.Description,
		City:           e.City,
		Area:           e.Area,
		RequiredTier:   e.RequiredTier,
		RequiresReview: e.RequiresReview,
		Reveal: RevealView{
			State:             d.State,
			TimeRevealed:      d.TimeRevealed,
			LocationRevealed:  d.LocationRevealed,
			TierSufficient:    d.TierSufficient,
			LocationTier:      d.RequiredTier,
			WithheldBecause:   d.WithheldBecause,
			MsUntilTimeReveal: reveal.Millis(d.UntilTimeReveal),
			MsUntilStart:      reveal.Millis(d.UntilStart),
		},
	}
	if d.UntilLocationReveal != nil {
		ms := reveal.Millis(*d.UntilLocationReveal)
		v.Reveal.MsUntilLocationReveal = &ms
	}
	if d.TimeRevealed {
		start := e.StartsAt
		v.StartsAt = &start
		v.EndsAt = e.EndsAt
	}
	if d.LocationRevealed {
		v.VenueName = e.VenueName
		v.VenueAddress = e.VenueAddress
	}
	return v
}
