package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLogger(t *testing.T) {
	logger := NewChainLogger()

	e1 := logger.Append(`{"action":"ledger.append","account_id":1}`)
	e2 := logger.Append(`{"action":"commission.save","record_id":9}`)
	e3 := logger.Append(`{"action":"commission.delete","record_id":9}`)

	chain := []*LogEntry{e1, e2, e3}
	require.True(t, VerifyChain(chain), "valid chain must verify")

	t.Run("TamperedPayload", func(t *testing.T) {
		original := e2.Payload
		e2.Payload = `{"action":"commission.save","record_id":999}`
		assert.False(t, VerifyChain(chain))
		e2.Payload = original
	})

	t.Run("TamperedHash", func(t *testing.T) {
		original := e2.Hash
		e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
		assert.False(t, VerifyChain(chain))
		e2.Hash = original
	})

	t.Run("BrokenLink", func(t *testing.T) {
		original := e3.PreviousHash
		e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
		assert.False(t, VerifyChain(chain))
		e3.PreviousHash = original
	})

	t.Run("EmptyChain", func(t *testing.T) {
		assert.True(t, VerifyChain(nil))
	})
}

func TestTrailRecordAndVerify(t *testing.T) {
	trail := NewTrail(0)

	trail.Record("ledger.append", map[string]any{"account_id": int64(3), "credit": 100.0})
	trail.Record("commission.save", map[string]any{"record_id": int64(12), "amount": 1025.0})

	entries := trail.Entries()
	require.Len(t, entries, 2)
	assert.True(t, trail.Verify())

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Payload), &payload))
	assert.Equal(t, "ledger.append", payload["action"])
	assert.Equal(t, 100.0, payload["credit"])
}

func TestTrailWindowTrimsOldestButStillVerifies(t *testing.T) {
	trail := NewTrail(3)
	for i := 0; i < 10; i++ {
		trail.Record("ledger.append", map[string]any{"n": i})
	}

	entries := trail.Entries()
	require.Len(t, entries, 3)
	// A trimmed window is a suffix of the chain and must still verify.
	assert.True(t, trail.Verify())

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[2].Payload), &payload))
	assert.Equal(t, 9.0, payload["n"])
}
