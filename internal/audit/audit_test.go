package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattend/internal/queue"
)

func TestRecorderPublishesDecodableEvents(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	rec := NewRecorder(q, nil)

	rec.Record(ctx, Event{
		Kind:       KindCheckIn,
		SessionID:  "sess-1",
		StudentID:  "stu-1",
		Confidence: 0.9,
		Outcome:    "CONFIRMED",
	})

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, MessageType, msg.Type)

	evt, err := Decode(msg.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.At.IsZero())
	assert.Equal(t, KindCheckIn, evt.Kind)
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, "stu-1", evt.StudentID)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(context.Background(), Event{Kind: KindVerify, Outcome: "scored"})
}
