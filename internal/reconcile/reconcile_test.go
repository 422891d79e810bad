package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeMergesBothChannels(t *testing.T) {
	roster := []string{"s3", "s1", "s2"}
	checkIns := []CheckInEvidence{
		{StudentID: "s1", RedeemedAt: time.Now(), Confidence: 0.92},
	}
	photo := []PhotoEvidence{
		{StudentID: "s2", Confidence: 0.81},
	}

	roll := Finalize(roster, checkIns, photo, DefaultPolicy(0.75))
	require.Len(t, roll, 3)

	byID := indexRoll(roll)
	assert.Equal(t, Present, byID["s1"].Decision)
	assert.Equal(t, []string{SourceCheckIn}, byID["s1"].Sources)
	assert.Equal(t, PresentInReview, byID["s2"].Decision)
	assert.Equal(t, []string{SourcePhoto}, byID["s2"].Sources)
	assert.Equal(t, Absent, byID["s3"].Decision)
	assert.Empty(t, byID["s3"].Sources)
}

func TestFinalizeCheckInPlusPhotoRecordsBothSources(t *testing.T) {
	roll := Finalize(
		[]string{"s1"},
		[]CheckInEvidence{{StudentID: "s1", Confidence: 0.9}},
		[]PhotoEvidence{{StudentID: "s1", Confidence: 0.8}},
		DefaultPolicy(0.75),
	)
	require.Len(t, roll, 1)
	assert.Equal(t, Present, roll[0].Decision)
	assert.Equal(t, []string{SourceCheckIn, SourcePhoto}, roll[0].Sources)
}

func TestFinalizeSubThresholdPhotoIsNotEvidence(t *testing.T) {
	roll := Finalize(
		[]string{"s1"},
		nil,
		[]PhotoEvidence{{StudentID: "s1", Confidence: 0.5}},
		DefaultPolicy(0.75),
	)
	require.Len(t, roll, 1)
	assert.Equal(t, Absent, roll[0].Decision)
}

func TestFinalizeDuplicatePhotoMatchesKeepHighest(t *testing.T) {
	roll := Finalize(
		[]string{"s1"},
		nil,
		[]PhotoEvidence{
			{StudentID: "s1", Confidence: 0.78},
			{StudentID: "s1", Confidence: 0.91},
			{StudentID: "s1", Confidence: 0.8},
		},
		DefaultPolicy(0.75),
	)
	require.Len(t, roll, 1)
	assert.Equal(t, PresentInReview, roll[0].Decision)
	assert.InDelta(t, 0.91, roll[0].Confidence, 1e-9)
}

func TestFinalizeEmptyEvidenceYieldsFullAbsentRoll(t *testing.T) {
	roll := Finalize([]string{"b", "a"}, nil, nil, DefaultPolicy(0.75))
	require.Len(t, roll, 2)
	for _, rec := range roll {
		assert.Equal(t, Absent, rec.Decision)
	}
	// sorted output
	assert.Equal(t, "a", roll[0].StudentID)
	assert.Equal(t, "b", roll[1].StudentID)
}

func TestFinalizeIsDeterministic(t *testing.T) {
	roster := []string{"s2", "s1", "s4", "s3"}
	checkIns := []CheckInEvidence{{StudentID: "s4", Confidence: 0.88}}
	photo := []PhotoEvidence{{StudentID: "s2", Confidence: 0.8}, {StudentID: "s3", Confidence: 0.76}}
	p := DefaultPolicy(0.75)

	first := Finalize(roster, checkIns, photo, p)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Finalize(roster, checkIns, photo, p))
	}
}

func TestFinalizePhotoOnlyPolicyConfigurable(t *testing.T) {
	p := Policy{PhotoThreshold: 0.75, PhotoOnly: Present}
	roll := Finalize([]string{"s1"}, nil, []PhotoEvidence{{StudentID: "s1", Confidence: 0.8}}, p)
	require.Len(t, roll, 1)
	assert.Equal(t, Present, roll[0].Decision)
}

func indexRoll(roll []Record) map[string]Record {
	m := make(map[string]Record, len(roll))
	for _, r := range roll {
		m[r.StudentID] = r
	}
	return m
}
