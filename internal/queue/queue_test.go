package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: []byte("one")}))
	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: []byte("two")}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-msgs
	assert.Equal(t, "one", string(first.Body))
	second := <-msgs
	assert.Equal(t, "two", string(second.Body))
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: "audit"}))

	// queue full, publish must give up with the context
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := q.Publish(short, Message{Type: "audit"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
