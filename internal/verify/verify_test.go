package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattend/internal/faceclient"
)

type stubMatcher struct {
	confidence float64
	err        error
}

func (s stubMatcher) Verify(_ context.Context, studentID, _ string) (*faceclient.VerifyResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &faceclient.VerifyResult{StudentID: studentID, Confidence: s.confidence}, nil
}

type stubCounter map[string]int

func (s stubCounter) CountByStudent(_ context.Context, studentID string) (int, error) {
	return s[studentID], nil
}

func TestVerifyReturnsConfidence(t *testing.T) {
	v := New(stubCounter{"stu-1": 2}, stubMatcher{confidence: 0.87}, 1, nil, nil)

	conf, err := v.Verify(context.Background(), "sess-1", "stu-1", "ref")
	require.NoError(t, err)
	assert.InDelta(t, 0.87, conf, 1e-9)
}

func TestVerifyRequiresMinimumTemplates(t *testing.T) {
	v := New(stubCounter{"stu-1": 1}, stubMatcher{confidence: 0.9}, 2, nil, nil)

	_, err := v.Verify(context.Background(), "sess-1", "stu-1", "ref")
	assert.ErrorIs(t, err, ErrNotEnrolled)

	// unenrolled student
	_, err = v.Verify(context.Background(), "sess-1", "stu-2", "ref")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}
