package otp

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgate/internal/kv"
)

const testPhone = "+15551234567"

func TestService_Issue_SixDigits(t *testing.T) {
	s := New(kv.NewMemory(), 0)

	sixDigits := regexp.MustCompile(`^[1-9]\d{5}$`)
	for i := 0; i < 50; i++ {
		code, err := s.Issue(context.Background(), testPhone)
		require.NoError(t, err)
		assert.Regexp(t, sixDigits, code)
	}
}

func TestService_VerifyRoundTrip(t *testing.T) {
	s := New(kv.NewMemory(), 0)
	ctx := context.Background()

	code, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)

	ok, err := s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Verify_SingleUse(t *testing.T) {
	s := New(kv.NewMemory(), 0)
	ctx := context.Background()

	code, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)

	ok, err := s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok, "a consumed code must never verify again")
}

func TestService_Verify_WrongCodeKeepsRecord(t *testing.T) {
	s := New(kv.NewMemory(), 0)
	ctx := context.Background()

	code, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	ok, err := s.Verify(ctx, testPhone, wrong)
	require.NoError(t, err)
	assert.False(t, ok)

	// The real code still works after a failed guess.
	ok, err = s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Verify_Expired(t *testing.T) {
	mem := kv.NewMemory()
	s := New(mem, 600*time.Second)
	ctx := context.Background()

	base := time.Now()
	mem.SetNow(func() time.Time { return base })

	code, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)

	// One second past the TTL the code is gone.
	mem.SetNow(func() time.Time { return base.Add(601 * time.Second) })
	ok, err := s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_Issue_OverwritesPriorCode(t *testing.T) {
	s := New(kv.NewMemory(), 0)
	ctx := context.Background()

	first, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)
	second, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)

	if first != second {
		ok, err := s.Verify(ctx, testPhone, first)
		require.NoError(t, err)
		assert.False(t, ok, "an overwritten code must be dead")
	}

	ok, err := s.Verify(ctx, testPhone, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_Invalidate(t *testing.T) {
	s := New(kv.NewMemory(), 0)
	ctx := context.Background()

	code, err := s.Issue(ctx, testPhone)
	require.NoError(t, err)
	require.NoError(t, s.Invalidate(ctx, testPhone))

	ok, err := s.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

// brokenStore fails every operation, simulating an unreachable backing store.
type brokenStore struct{ kv.Store }

func (brokenStore) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenStore) CompareDel(context.Context, string, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestService_FailsClosedOnStoreError(t *testing.T) {
	s := New(brokenStore{}, 0)
	ctx := context.Background()

	_, err := s.Issue(ctx, testPhone)
	assert.Error(t, err)

	ok, err := s.Verify(ctx, testPhone, "123456")
	assert.Error(t, err)
	assert.False(t, ok)
}
