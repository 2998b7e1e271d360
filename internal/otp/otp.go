// Package otp issues and verifies single-use phone verification codes.
// Codes are stored hashed with a short TTL; at most one code is live per
// phone and a successful verify consumes it.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgate/internal/kv"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 600 * time.Second

const codeSpan = 900000 // codes are drawn from [100000, 999999]

// Service issues and verifies codes against the ephemeral store.
type Service struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Service. A non-positive ttl selects DefaultTTL.
func New(store kv.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl}
}

// Issue draws a fresh code for phone and stores its hash, replacing any
// pending code. The plaintext code is returned once, for the SMS send, and
// never persisted.
func (s *Service) Issue(ctx context.Context, phone string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", eris.Wrap(err, "otp: draw code")
	}
	code := strconv.FormatInt(100000+n.Int64(), 10)

	if err := s.store.SetWithTTL(ctx, key(phone), hashCode(code), s.ttl); err != nil {
		return "", eris.Wrap(err, "otp: store code")
	}

	zap.L().Info("otp issued", zap.String("phone", phone))
	return code, nil
}

// Verify checks code against the stored hash for phone. A match consumes
// the record so the same code can never verify twice; a mismatch, absent,
// or expired record verifies false with no side effects. A store error is
// returned as-is so callers reject the attempt: unlike the rate limiter
// this path fails closed, because admitting an unverified contact is worse
// than asking the user to retry.
func (s *Service) Verify(ctx context.Context, phone, code string) (bool, error) {
	ok, err := s.store.CompareDel(ctx, key(phone), hashCode(code))
	if err != nil {
		return false, eris.Wrap(err, "otp: verify")
	}
	return ok, nil
}

// Invalidate discards any pending code for phone.
func (s *Service) Invalidate(ctx context.Context, phone string) error {
	if err := s.store.Del(ctx, key(phone)); err != nil {
		return eris.Wrap(err, "otp: invalidate")
	}
	return nil
}

func key(phone string) string {
	return "otp:" + phone
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
