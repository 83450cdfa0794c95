package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpratama/fieldtrack-server/internal/protocol"
)

func queuePoint(key string) protocol.PointUpload {
	return protocol.PointUpload{
		EmployeeID:     "emp-1",
		SessionID:      "sess-1",
		Latitude:       -6.2,
		Longitude:      106.8,
		RecordedAt:     "2024-03-10T08:00:00Z",
		IdempotencyKey: key,
	}
}

func TestQueue_EnqueuePeekAck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Enqueue(queuePoint("b")))
	require.NoError(t, q.Enqueue(queuePoint("c")))
	assert.Equal(t, 3, q.Len())

	batch := q.Peek(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].IdempotencyKey)
	assert.Equal(t, "b", batch[1].IdempotencyKey)
	assert.Equal(t, 3, q.Len(), "peek must not consume")

	require.NoError(t, q.Ack(2))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "c", q.Peek(10)[0].IdempotencyKey)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")

	q, err := OpenQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Enqueue(queuePoint("b")))
	require.NoError(t, q.Close())

	// App relaunch: pending entries resume from disk.
	q, err = OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "a", q.Peek(1)[0].IdempotencyKey)

	// Ack survives a further reopen too.
	require.NoError(t, q.Ack(1))
	require.NoError(t, q.Close())
	q, err = OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.Peek(1)[0].IdempotencyKey)
}

func TestQueue_TornTrailingLineDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")

	q, err := OpenQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Close())

	// Simulate a crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"employee_id":"emp-1","idempo`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	q, err = OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "a", q.Peek(1)[0].IdempotencyKey)
}

func TestQueue_AckPastEndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Ack(10))
	assert.Zero(t, q.Len())

	require.NoError(t, q.Ack(1)) // empty queue is a no-op
}

func TestQueue_AckToleratesDeadAppendHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Enqueue(queuePoint("b")))

	// The old append handle dying must not fail the ack; the rewrite and the
	// reopened handle carry on.
	require.NoError(t, q.file.Close())
	require.NoError(t, q.Ack(1))
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.Enqueue(queuePoint("c")))
	require.NoError(t, q.Close())
	q, err = OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()
	require.Equal(t, 2, q.Len())
	assert.Equal(t, "b", q.Peek(1)[0].IdempotencyKey)
}

func TestQueue_EnqueueAfterAckAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	q, err := OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(queuePoint("a")))
	require.NoError(t, q.Ack(1))
	require.NoError(t, q.Enqueue(queuePoint("b")))

	// The append handle must follow the rewritten file.
	require.NoError(t, q.Close())
	q, err = OpenQueue(path)
	require.NoError(t, err)
	defer q.Close()
	require.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.Peek(1)[0].IdempotencyKey)
}
