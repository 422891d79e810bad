package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattend/internal/recognize"
	"smartattend/internal/reconcile"
	"smartattend/internal/roster"
	"smartattend/internal/token"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	provider := &roster.Static{
		Rosters: map[string][]string{"sched-1": {"s1", "s2", "s3"}},
		Owners:  map[string]string{"sched-1": "teach-1"},
	}
	issuer := token.NewIssuer(token.NewMemory(), 5*time.Minute)
	return NewManager(Config{
		Issuer:         issuer,
		Rosters:        provider,
		Policy:         reconcile.DefaultPolicy(0.75),
		MatchThreshold: 0.75,
		SessionTTL:     15 * time.Minute,
	})
}

func TestOpenAndConfirmedCheckIn(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 0, st.ConfirmedCount)
	assert.NotEmpty(t, tok.Value)

	res, err := m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.92)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)

	st2, err := m.Status(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, st2.ConfirmedCount)
}

func TestOpenRequiresScheduleOwner(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Open(context.Background(), "sched-1", "teach-2")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestOnlyOneOpenSessionPerSchedule(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, _, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, _, err = m.Open(ctx, "sched-1", "teach-1")
	assert.ErrorIs(t, err, ErrScheduleBusy)

	require.NoError(t, m.Cancel(ctx, st.SessionID, "teach-1"))
	_, _, err = m.Open(ctx, "sched-1", "teach-1")
	assert.NoError(t, err)
}

func TestRejectedCheckInAllowsRetry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	res, err := m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.4)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)

	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, 0, st2.ConfirmedCount)

	// low confidence leaves no record and does not spend the redemption
	res, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
}

func TestRepeatCheckInIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	first, err := m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.92)
	require.NoError(t, err)

	// teacher reissues; the student tries again with the fresh code
	tok2, err := m.Reissue(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)
	second, err := m.RecordCheckIn(ctx, st.SessionID, "s1", tok2.Value, 0.99)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, second.Outcome)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.RedeemedAt, second.RedeemedAt)

	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, 1, st2.ConfirmedCount)
}

func TestConcurrentDuplicateCheckInsSingleRecord(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	const attempts = 24
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.RecordCheckIn(ctx, st.SessionID, "s2", tok.Value, 0.9)
			assert.NoError(t, err)
			assert.Equal(t, OutcomeConfirmed, res.Outcome)
		}()
	}
	wg.Wait()

	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, 1, st2.ConfirmedCount)
}

func TestConcurrentDistinctStudents(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, stu := range []string{"s1", "s2", "s3"} {
		stu := stu
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.RecordCheckIn(ctx, st.SessionID, stu, tok.Value, 0.9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, 3, st2.ConfirmedCount)
}

func TestCheckInRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, _, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", "bogus", 0.9)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckInRejectsStudentOffRoster(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, err = m.RecordCheckIn(ctx, st.SessionID, "intruder", tok.Value, 0.95)
	assert.ErrorIs(t, err, ErrNotOnRoster)
}

func TestReissueInvalidatesOldCode(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, err = m.Reissue(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)

	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.9)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubmitPhotoTransitionsAndReplaces(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	first := []recognize.Detection{{Region: "f0", StudentID: "s1", Confidence: 0.9}}
	require.NoError(t, m.SubmitPhoto(ctx, st.SessionID, "teach-1", first))

	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, StatePhotoSubmitted, st2.State)
	assert.True(t, st2.HasPhoto)

	// retake replaces the first batch entirely
	second := []recognize.Detection{{Region: "f0", StudentID: "s2", Confidence: 0.8}}
	require.NoError(t, m.SubmitPhoto(ctx, st.SessionID, "teach-1", second))

	// s1 still confirms via check-in; photo evidence now only covers s2
	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.92)
	require.NoError(t, err)

	roll, err := m.Finalize(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)
	byID := map[string]reconcile.Record{}
	for _, r := range roll {
		byID[r.StudentID] = r
	}
	assert.Equal(t, reconcile.Present, byID["s1"].Decision)
	assert.Equal(t, []string{reconcile.SourceCheckIn}, byID["s1"].Sources)
	assert.Equal(t, reconcile.PresentInReview, byID["s2"].Decision)
	assert.Equal(t, reconcile.Absent, byID["s3"].Decision)
}

func TestSubmitPhotoOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, _, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	err = m.SubmitPhoto(ctx, st.SessionID, "teach-2", nil)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestFinalizeWithoutEvidenceRejected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, _, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, err = m.Finalize(ctx, st.SessionID, "teach-1")
	assert.ErrorIs(t, err, ErrNoEvidence)

	// still open, teacher cancels instead
	st2, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, StateOpen, st2.State)

	require.NoError(t, m.Cancel(ctx, st.SessionID, "teach-1"))
	st3, _ := m.Status(ctx, st.SessionID)
	assert.Equal(t, StateCancelled, st3.State)

	// terminal sessions accept no further mutation
	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", "whatever", 0.9)
	assert.ErrorIs(t, err, ErrSessionClosed)
	err = m.SubmitPhoto(ctx, st.SessionID, "teach-1", nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestFinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)
	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.9)
	require.NoError(t, err)

	first, err := m.Finalize(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)
	second, err := m.Finalize(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	roll, err := m.Roll(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first, roll)
}

func TestFinalizeScenarioMixedEvidence(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.92)
	require.NoError(t, err)
	require.NoError(t, m.SubmitPhoto(ctx, st.SessionID, "teach-1", []recognize.Detection{
		{Region: "f0", StudentID: "s2", Confidence: 0.81},
	}))

	roll, err := m.Finalize(ctx, st.SessionID, "teach-1")
	require.NoError(t, err)
	require.Len(t, roll, 3)
	assert.Equal(t, reconcile.Present, roll[0].Decision)         // s1
	assert.Equal(t, reconcile.PresentInReview, roll[1].Decision) // s2
	assert.Equal(t, reconcile.Absent, roll[2].Decision)          // s3
}

func TestLazyExpiry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	st, tok, err := m.Open(ctx, "sched-1", "teach-1")
	require.NoError(t, err)

	m.now = func() time.Time { return st.ExpiresAt.Add(time.Second) }

	st2, err := m.Status(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, st2.State)

	_, err = m.RecordCheckIn(ctx, st.SessionID, "s1", tok.Value, 0.9)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = m.Finalize(ctx, st.SessionID, "teach-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStatusUnknownSession(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
