// Package tier maps member stats to membership tiers and reports progress
// toward the next one. Everything here is pure.
package tier

import (
	"fmt"
	"math"
	"strings"
)

// Tier is a membership rank. The zero value is Outside.
type Tier int

const (
	Outside Tier = iota
	Initiate
	Member
	InnerCircle
)

// Max is the highest tier.
const Max = InnerCircle

// All lists tiers in ascending order.
var All = []Tier{Outside, Initiate, Member, InnerCircle}

var names = [...]string{"OUTSIDE", "INITIATE", "MEMBER", "INNER_CIRCLE"}

var labels = [...]string{"Outside", "Initiate", "Member", "Inner Circle"}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return names[t]
}

// Label is the display name.
func (t Tier) Label() string {
	if !t.Valid() {
		return t.String()
	}
	return labels[t]
}

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t >= Outside && t <= Max
}

// AtLeast reports whether t ranks at or above min.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// Next returns the tier immediately above t.
func (t Tier) Next() (Tier, bool) {
	if t >= Max {
		return t, false
	}
	return t + 1, true
}

// Parse accepts the canonical name case-insensitively.
func Parse(s string) (Tier, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Tier(i), nil
		}
	}
	return Outside, fmt.Errorf("unknown tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Stats is the member stat triple tiers are computed from.
type Stats struct {
	MarksOwned     int `json:"marks_owned"`
	EventsAttended int `json:"events_attended"`
	ReferralsMade  int `json:"referrals_made"`
}

func (s Stats) clamp() Stats {
	return Stats{
		MarksOwned:     max(s.MarksOwned, 0),
		EventsAttended: max(s.EventsAttended, 0),
		ReferralsMade:  max(s.ReferralsMade, 0),
	}
}

// Requirement is the minimum stat triple for a tier.
type Requirement = Stats

// Requirements is the immutable requirement table. Every field is
// non-decreasing along the tier order.
var Requirements = [...]Requirement{
	Outside:     {MarksOwned: 0, EventsAttended: 0, ReferralsMade: 0},
	Initiate:    {MarksOwned: 1, EventsAttended: 0, ReferralsMade: 0},
	Member:      {MarksOwned: 3, EventsAttended: 2, ReferralsMade: 0},
	InnerCircle: {MarksOwned: 5, EventsAttended: 5, ReferralsMade: 5},
}

// RequirementFor returns the requirement record of t.
func RequirementFor(t Tier) Requirement {
	if !t.Valid() {
		return Requirements[Outside]
	}
	return Requirements[t]
}

func satisfies(s Stats, r Requirement) bool {
	return s.MarksOwned >= r.MarksOwned &&
		s.EventsAttended >= r.EventsAttended &&
		s.ReferralsMade >= r.ReferralsMade
}

// Of returns the highest tier whose requirement is fully met.
func Of(stats Stats) Tier {
	s := stats.clamp()
	for t := Max; t > Outside; t-- {
		if satisfies(s, Requirements[t]) {
			return t
		}
	}
	return Outside
}

// Field names a stat in progress reports.
type Field string

const (
	FieldMarksOwned     Field = "marks_owned"
	FieldEventsAttended Field = "events_attended"
	FieldReferralsMade  Field = "referrals_made"
)

// Fields lists stat fields in report order.
var Fields = []Field{FieldMarksOwned, FieldEventsAttended, FieldReferralsMade}

func (s Stats) get(f Field) int {
	switch f {
	case FieldMarksOwned:
		return s.MarksOwned
	case FieldEventsAttended:
		return s.EventsAttended
	case FieldReferralsMade:
		return s.ReferralsMade
	}
	return 0
}

// FieldProgress is the per-requirement slice of a Progress report.
type FieldProgress struct {
	Field    Field `json:"field"`
	Current  int   `json:"current"`
	Required int   `json:"required"`
	Progress int   `json:"progress"`
	Met      bool  `json:"met"`
	Active   bool  `json:"active"`
}

// Progress describes where a member stands relative to the next tier.
type Progress struct {
	Current      Tier            `json:"current_tier"`
	Next         *Tier           `json:"next_tier,omitempty"`
	Overall      int             `json:"overall_progress"`
	Requirements []FieldProgress `json:"requirements"`
}

// ProgressToward computes progress from the member's current tier to the
// next. Only fields whose requirement grows between the two tiers count
// toward Overall.
func ProgressToward(stats Stats) Progress {
	s := stats.clamp()
	cur := Of(s)
	curReq := Requirements[cur]
	next, hasNext := cur.Next()
	nextReq := curReq
	if hasNext {
		nextReq = Requirements[next]
	}

	p := Progress{Current: cur}
	if hasNext {
		n := next
		p.Next = &n
	}

	total, active := 0, 0
	for _, f := range Fields {
		have, base, want := s.get(f), curReq.get(f), nextReq.get(f)
		fp := FieldProgress{
			Field:    f,
			Current:  have,
			Required: want,
			Progress: 100,
			Met:      have >= want,
			Active:   hasNext && want > base,
		}
		if fp.Active {
			fp.Progress = percent(have-base, want-base)
			total += fp.Progress
			active++
		}
		p.Requirements = append(p.Requirements, fp)
	}

	switch {
	case !hasNext:
		p.Overall = 100
	case active == 0:
		p.Overall = 0
	default:
		p.Overall = int(math.Round(float64(total) / float64(active)))
	}
	return p
}

func percent(num, den int) int {
	v := int(math.Round(100 * float64(num) / float64(den)))
	return min(max(v, 0), 100)
}
