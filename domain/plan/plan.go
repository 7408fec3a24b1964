// Package plan provides plan value types and the immutable plan catalog.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artpar/speechquota/domain/period"
)

// ErrUnknownPlan is returned when a plan ID is not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// Priority is the processing priority granted to a plan's requests.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// Format is an audio output format.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatOGG  Format = "ogg"
	FormatFLAC Format = "flac"
	FormatPCM  Format = "pcm"
)

// Limits are the quota rules of a plan (immutable value type).
type Limits struct {
	PeriodKind         period.Kind
	PeriodCharacterCap int64
	PerRequestCap      int64
	CommercialUse      bool
	WaitSeconds        int // Mandatory delay before each synthesis; 0 = none
	AudioFormats       []Format
	Priority           Priority
}

// AllowsFormat reports whether f is in the plan's format set.
// An empty format is treated as "not specified" and allowed.
func (l Limits) AllowsFormat(f Format) bool {
	if f == "" {
		return true
	}
	for _, af := range l.AudioFormats {
		if af == f {
			return true
		}
	}
	return false
}

// Plan is a subscription tier (immutable value type).
type Plan struct {
	ID     string
	Name   string
	Limits Limits
}

// Validate checks the plan's internal consistency.
func (p Plan) Validate() error {
	l := p.Limits
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("plan id is required")
	case !l.PeriodKind.Valid():
		return fmt.Errorf("plan %s: invalid period kind %q", p.ID, l.PeriodKind)
	case l.PeriodCharacterCap <= 0:
		return fmt.Errorf("plan %s: period character cap must be positive", p.ID)
	case l.PerRequestCap <= 0:
		return fmt.Errorf("plan %s: per-request cap must be positive", p.ID)
	case l.PerRequestCap > l.PeriodCharacterCap:
		return fmt.Errorf("plan %s: per-request cap %d exceeds period cap %d", p.ID, l.PerRequestCap, l.PeriodCharacterCap)
	case l.WaitSeconds < 0:
		return fmt.Errorf("plan %s: wait seconds must not be negative", p.ID)
	case l.WaitSeconds > 0 && l.PeriodKind != period.Daily:
		return fmt.Errorf("plan %s: wait requires a daily period", p.ID)
	case len(l.AudioFormats) == 0:
		return fmt.Errorf("plan %s: at least one audio format is required", p.ID)
	case l.Priority != "" && !l.Priority.Valid():
		return fmt.Errorf("plan %s: invalid priority %q", p.ID, l.Priority)
	}
	return nil
}

// Catalog is a validated, read-only set of plans.
// It is safe for concurrent use without synchronization.
type Catalog struct {
	plans     map[string]Plan
	order     []string
	defaultID string
}

// NewCatalog validates plans and builds a catalog.
// defaultID names the plan used for accounts without a subscription in force.
func NewCatalog(plans []Plan, defaultID string) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, errors.New("catalog: no plans")
	}

	c := &Catalog{
		plans:     make(map[string]Plan, len(plans)),
		order:     make([]string, 0, len(plans)),
		defaultID: defaultID,
	}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate plan id %q", p.ID)
		}
		if p.Limits.Priority == "" {
			p.Limits.Priority = PriorityNormal
		}
		p.Limits.AudioFormats = append([]Format(nil), p.Limits.AudioFormats...)
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	if _, ok := c.plans[defaultID]; !ok {
		return nil, fmt.Errorf("catalog: default plan %q: %w", defaultID, ErrUnknownPlan)
	}
	return c, nil
}

// Resolve returns the plan with the given ID.
func (c *Catalog) Resolve(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, id)
	}
	return p, nil
}

// Default returns the fallback plan.
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultID]
}

// List returns all plans in declaration order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// Len returns the number of plans.
func (c *Catalog) Len() int {
	return len(c.order)
}

// DefaultPlans returns the built-in free, basic and pro tiers.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:   "free",
			Name: "Free",
			Limits: Limits{
				PeriodKind:         period.Daily,
				PeriodCharacterCap: 1000,
				PerRequestCap:      500,
				CommercialUse:      false,
				WaitSeconds:        15,
				AudioFormats:       []Format{FormatMP3},
				Priority:           PriorityLow,
			},
		},
		{
			ID:   "basic",
			Name: "Basic",
			Limits: Limits{
				PeriodKind:         period.Monthly,
				PeriodCharacterCap: 100_000,
				PerRequestCap:      2000,
				CommercialUse:      true,
				AudioFormats:       []Format{FormatMP3, FormatWAV},
				Priority:           PriorityNormal,
			},
		},
		{
			ID:   "pro",
			Name: "Pro",
			Limits: Limits{
				PeriodKind:         period.Monthly,
				PeriodCharacterCap: 1_000_000,
				PerRequestCap:      5000,
				CommercialUse:      true,
				AudioFormats:       []Format{FormatMP3, FormatWAV, FormatOGG, FormatFLAC},
				Priority:           PriorityHigh,
			},
		},
	}
}

// DefaultCatalog builds a catalog of DefaultPlans with "free" as the fallback.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPlans(), "free")
	if err != nil {
		panic(err)
	}
	return c
}
