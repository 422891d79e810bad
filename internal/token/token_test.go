package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, ttl time.Duration) (*Issuer, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	iss := NewIssuer(NewMemory(), ttl)
	iss.now = func() time.Time { return now }
	return iss, &now
}

func TestIssueAndValidate(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", tok.SessionID)
	assert.Equal(t, 5*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))

	status, got, err := iss.Validate(ctx, tok.Value, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, tok.SessionID, got.SessionID)
}

func TestValidateUnknownCode(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)

	status, _, err := iss.Validate(context.Background(), "nope", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
}

func TestValidateExpiredCode(t *testing.T) {
	iss, now := newTestIssuer(t, 2*time.Minute)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)

	*now = now.Add(2*time.Minute + time.Second)
	status, _, err := iss.Validate(ctx, tok.Value, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)

	// expired stays expired no matter who already redeemed
	ok, err := iss.MarkRedeemed(ctx, "sess-1", "stu-2")
	require.NoError(t, err)
	require.True(t, ok)
	status, _, err = iss.Validate(ctx, tok.Value, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, status)
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)
	ctx := context.Background()

	first, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)
	second, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)
	require.NotEqual(t, first.Value, second.Value)

	status, _, err := iss.Validate(ctx, first.Value, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)

	status, _, err = iss.Validate(ctx, second.Value, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestBroadcastCodeSharedAcrossStudents(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)

	for _, stu := range []string{"stu-1", "stu-2", "stu-3"} {
		status, _, err := iss.Validate(ctx, tok.Value, stu)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, status)
		ok, err := iss.MarkRedeemed(ctx, "sess-1", stu)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	// each student only once
	status, _, err := iss.Validate(ctx, tok.Value, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyUsed, status)
}

func TestConcurrentRedemptionSingleWinnerPerStudent(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)
	ctx := context.Background()
	_, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := iss.MarkRedeemed(ctx, "sess-1", "stu-1")
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestInvalidateDropsCodeAndRedemptions(t *testing.T) {
	iss, _ := newTestIssuer(t, 5*time.Minute)
	ctx := context.Background()

	tok, err := iss.Issue(ctx, "sess-1")
	require.NoError(t, err)
	_, err = iss.MarkRedeemed(ctx, "sess-1", "stu-1")
	require.NoError(t, err)

	require.NoError(t, iss.Invalidate(ctx, "sess-1"))

	status, _, err := iss.Validate(ctx, tok.Value, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, status)
}
