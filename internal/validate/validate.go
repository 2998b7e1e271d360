// Package validate normalizes contact fields and applies the antifraud
// checks that run before any lead is persisted.
package validate

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultMinFormTime is the minimum time a human plausibly needs to fill
// the intake form. Submissions faster than this are treated as bots.
const DefaultMinFormTime = 3 * time.Second

var (
	ErrInvalidPhone = eris.New("validate: invalid phone number")
	ErrInvalidZip   = eris.New("validate: invalid zip code")

	// ErrBotSuspected covers both honeypot and form-time rejections. The
	// caller responds with a generic failure so the signal stays opaque.
	ErrBotSuspected = eris.New("validate: submission rejected")
)

var (
	nonDigitRe = regexp.MustCompile(`\D`)
	zipRe      = regexp.MustCompile(`^(\d{5})(-\d{4})?$`)
)

// NormalizePhone strips formatting and returns the E.164 form +1XXXXXXXXXX.
// Ten digits get the US country code prepended; eleven digits must already
// start with 1.
func NormalizePhone(raw string) (string, error) {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits, nil
	default:
		return "", ErrInvalidPhone
	}
}

// NormalizeZip reduces a ZIP or ZIP+4 to its five-digit form.
func NormalizeZip(raw string) (string, error) {
	m := zipRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", ErrInvalidZip
	}
	return m[1], nil
}

// Antifraud holds the pre-persistence bot checks.
type Antifraud struct {
	MinFormTime time.Duration
}

// NewAntifraud returns the default antifraud policy.
func NewAntifraud() Antifraud {
	return Antifraud{MinFormTime: DefaultMinFormTime}
}

// Check rejects submissions that filled the hidden honeypot field or
// completed the form faster than a human could.
func (a Antifraud) Check(honeypot string, formTime time.Duration) error {
	if strings.TrimSpace(honeypot) != "" {
		return ErrBotSuspected
	}
	min := a.MinFormTime
	if min <= 0 {
		min = DefaultMinFormTime
	}
	if formTime < min {
		return ErrBotSuspected
	}
	return nil
}
