// Package ratelimit provides sliding-window admission control over the
// ephemeral keyed store. Each identifier class carries its own limit and
// window; counters self-expire with the window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadgate/internal/kv"
)

// Class names an identifier class with its own limit and window.
type Class string

const (
	// ClassIP throttles form submissions per source address.
	ClassIP Class = "ip"
	// ClassPhone throttles OTP issuance per phone number.
	ClassPhone Class = "phone"
	// ClassOTPVerify bounds verify attempts per phone within the code's
	// validity window, closing the brute-force gap on 6-digit codes.
	ClassOTPVerify Class = "otp"
)

// Rule is the limit and window for one class.
type Rule struct {
	Limit  int64         `yaml:"limit" mapstructure:"limit"`
	Window time.Duration `yaml:"window" mapstructure:"window"`

	// FailClosed rejects when the backing store is unreachable. Set for
	// classes guarding auth-adjacent paths; throttling classes fail open
	// because over-admitting is merely inconvenient while blocking all
	// traffic on an infra blip is not.
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`
}

// DefaultRules returns the production class table.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassIP:        {Limit: 5, Window: time.Minute},
		ClassPhone:     {Limit: 3, Window: time.Hour},
		ClassOTPVerify: {Limit: 5, Window: 10 * time.Minute, FailClosed: true},
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Permitted bool
	Remaining int64
}

// Limiter checks identifiers against per-class sliding windows.
type Limiter struct {
	store kv.Store
	rules map[Class]Rule
	now   func() time.Time
}

// New creates a Limiter over the given store. Nil rules selects DefaultRules.
func New(store kv.Store, rules map[Class]Rule) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Limiter{store: store, rules: rules, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (l *Limiter) SetNow(now func() time.Time) { l.now = now }

// Allow admits or rejects one event for identifier under class. Unknown
// classes are permitted; an unconfigured class is a wiring bug, not a
// reason to drop traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, class Class) Decision {
	rule, ok := l.rules[class]
	if !ok {
		zap.L().Warn("ratelimit: unknown class, permitting",
			zap.String("class", string(class)),
		)
		return Decision{Permitted: true, Remaining: -1}
	}

	key := l.windowKey(identifier, class, rule)
	count, err := l.store.IncrWithTTL(ctx, key, rule.Window)
	if err != nil {
		if rule.FailClosed {
			zap.L().Error("ratelimit: store unreachable, failing closed",
				zap.String("class", string(class)),
				zap.Error(err),
			)
			return Decision{Permitted: false, Remaining: 0}
		}
		zap.L().Warn("ratelimit: store unreachable, failing open",
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return Decision{Permitted: true, Remaining: rule.Limit}
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Permitted: count <= rule.Limit, Remaining: remaining}
}

// windowKey scopes the counter to identifier, class, and the current
// window bucket so stale counters never bleed into the next window.
func (l *Limiter) windowKey(identifier string, class Class, rule Rule) string {
	bucket := l.now().Unix() / int64(rule.Window/time.Second)
	return fmt.Sprintf("ratelimit:%s:%s:%d", class, identifier, bucket)
}
