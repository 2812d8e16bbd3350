package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/offset"
)

// TestRunMonotonicTailRecoversAfterTimeTravel exercises spec.md §4.9/§8
// scenario 3: once a time-travel marker rolls the session's bookmark back,
// the next tail pass must actually redeliver the offending event and
// resume forward emission, not loop forever re-detecting the same
// violation (a prior bug left sess.lastKey/haveLast stale across the
// rollback).
func TestRunMonotonicTailRecoversAfterTimeTravel(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	rec := doRequest(srv, "POST", "/api/v2/events/publish", publishRequest{
		Data: []publishItem{
			{Tags: []string{"a"}, Payload: json.RawMessage(`{"x":1}`)},
			{Tags: []string{"a"}, Payload: json.RawMessage(`{"x":2}`)},
		},
	})
	require.Equal(t, 200, rec.Code)

	parsedQuery, pipeline, _, err := srv.compileQuery(queryRequest{Query: "FROM 'a'"})
	require.NoError(t, err)

	sess := srv.sessions.get("sess1", offset.Empty())
	// Pretend this session already saw an event far ahead in lamport order,
	// so the first real event the tail reads triggers a time-travel.
	sess.lastKey = banyan.AxKey{Lamport: 1000}
	sess.haveLast = true

	var mu sync.Mutex
	var records []ndjsonRecord
	emit := func(r ndjsonRecord) {
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
	}

	restarted, err := srv.runMonotonicTail(ctx, sess, parsedQuery, pipeline, emit)
	require.NoError(t, err)
	require.True(t, restarted, "expected the first pass to detect a time-travel and ask for a restart")

	mu.Lock()
	require.Len(t, records, 1)
	assert.Equal(t, "timeTravel", records[0].Type)
	mu.Unlock()

	sess.mu.Lock()
	haveLastAfterRollback := sess.haveLast
	sess.mu.Unlock()
	assert.False(t, haveLastAfterRollback, "haveLast must be cleared on rollback or the next pass re-triggers forever")

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = srv.runMonotonicTail(runCtx, sess, parsedQuery, pipeline, emit)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		count := 0
		for _, r := range records {
			if r.Type == "event" {
				count++
			}
		}
		return count >= 2
	}, time.Second, 10*time.Millisecond, "expected both previously-published events to be redelivered after recovery")

	cancel()
	<-done
}
