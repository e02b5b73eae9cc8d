// Package entitlement maps subscription state to daily credit allowances
// and billable actions to their credit cost. Everything here is pure.
package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viralgo/credits/internal/clock"
	"github.com/viralgo/credits/internal/model"
)

// ErrInvalidAction is returned for an action with no known cost.
var ErrInvalidAction = errors.New("invalid action")

// Action is a billable operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionRemix  Action = "remix"
	ActionTTS    Action = "tts"
)

// ParseAction normalizes a raw action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionCreate, ActionRemix, ActionTTS:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Config holds the tunable numbers of the policy.
type Config struct {
	FreeAllowance int
	PaidAllowance int
	Costs         map[Action]int
}

// DefaultConfig returns the allowances and costs the dashboard ships with.
func DefaultConfig() Config {
	return Config{
		FreeAllowance: 10,
		PaidAllowance: 100,
		Costs: map[Action]int{
			ActionCreate: 2,
			ActionRemix:  1,
			ActionTTS:    1,
		},
	}
}

// Policy answers allowance, cost and reset questions.
type Policy struct {
	cfg      Config
	resolver *clock.Resolver
}

// NewPolicy builds a policy evaluated in the resolver's timezone.
func NewPolicy(cfg Config, resolver *clock.Resolver) (*Policy, error) {
	if cfg.FreeAllowance < 0 || cfg.PaidAllowance < 0 {
		return nil, errors.New("allowances must not be negative")
	}
	if resolver == nil {
		return nil, errors.New("timezone resolver is required")
	}
	costs := make(map[Action]int, len(cfg.Costs))
	for a, c := range cfg.Costs {
		if c <= 0 {
			return nil, fmt.Errorf("cost of %q must be positive", a)
		}
		costs[a] = c
	}
	cfg.Costs = costs
	return &Policy{cfg: cfg, resolver: resolver}, nil
}

// Allowance returns the balance granted at each reset for status.
func (p *Policy) Allowance(status model.SubscriptionStatus) int {
	if status == model.SubscriptionActive {
		return p.cfg.PaidAllowance
	}
	return p.cfg.FreeAllowance
}

// Cost returns the credit cost of action.
func (p *Policy) Cost(action Action) (int, error) {
	c, ok := p.cfg.Costs[action]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return c, nil
}

// IsResetDue reports whether now is on a later reference calendar day than lastResetAt.
// A record that was never reset is always due.
func (p *Policy) IsResetDue(lastResetAt, now time.Time) bool {
	if lastResetAt.IsZero() {
		return true
	}
	return !p.resolver.SameDay(lastResetAt, now)
}

// NextResetAt returns when the allowance is next restored.
func (p *Policy) NextResetAt(now time.Time) time.Time {
	return p.resolver.StartOfNextDay(now)
}
