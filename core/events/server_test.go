package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/blockstore"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/streamlog"
	"github.com/actyx-go/ax/pkg/utils"
)

func newTestServer(t *testing.T) (*Server, offset.NodeId) {
	t.Helper()
	bs, err := blockstore.Open(t.TempDir(), 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	engine := banyan.New(bs, banyan.DefaultConfig())
	var node offset.NodeId
	node[1] = 9
	table := streamlog.New(bs, engine, node)
	actor := eventstore.New(table, engine, node)
	t.Cleanup(actor.Shutdown)

	srv := NewServer(Options{Actor: actor, Self: node})
	return srv, node
}

func doRequest(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleOffsetsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/v2/events/offsets", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp offsetsResponseWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Present)
}

func TestHandlePublishThenOffsetsReportsPresent(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v2/events/publish", publishRequest{
		Data: []publishItem{{Tags: []string{"a"}, Payload: json.RawMessage(`{"x":1}`)}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp publishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, uint64(0), resp.Data[0].Offset)

	rec = doRequest(srv, http.MethodGet, "/api/v2/events/offsets", nil)
	var offsets offsetsResponseWire
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &offsets))
	assert.Len(t, offsets.Present, 1)
}

func TestHandleQueryStreamsNDJSON(t *testing.T) {
	srv, node := newTestServer(t)

	pubRec := doRequest(srv, http.MethodPost, "/api/v2/events/publish", publishRequest{
		Data: []publishItem{
			{Tags: []string{"a"}, Payload: json.RawMessage(`{"x":1}`)},
			{Tags: []string{"a"}, Payload: json.RawMessage(`{"x":2}`)},
		},
	})
	require.Equal(t, http.StatusOK, pubRec.Code)

	var pubResp publishResponse
	require.NoError(t, json.Unmarshal(pubRec.Body.Bytes(), &pubResp))
	stream := pubResp.Data[0].Stream

	upper := offsetMapWire{stream: 1}
	rec := doRequest(srv, http.MethodPost, "/api/v2/events/query", queryRequest{
		Query:      "FROM 'a'",
		UpperBound: &upper,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	scanner := bufio.NewScanner(rec.Body)
	var records []ndjsonRecord
	for scanner.Scan() {
		var rec ndjsonRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "event", records[0].Type)

	_ = node
}

func TestWriteErrorMapsKinds(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	writeError(rec, utils.New(utils.KindUnauthorized, "no token"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	writeError(rec, utils.New(utils.KindOverloaded, "mailbox full"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamForAppIsDeterministic(t *testing.T) {
	var node offset.NodeId
	a := streamForApp(node, "app1")
	b := streamForApp(node, "app1")
	c := streamForApp(node, "app2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSessionStoreReapsIdleSessions(t *testing.T) {
	store := newSessionStore(20 * time.Millisecond)
	defer store.Close()
	sess := store.get("s1", offset.Empty())
	sess.touchedAt = time.Now().Add(-time.Hour)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		_, ok := store.sessions["s1"]
		store.mu.Unlock()
		return !ok
	}, time.Second, 10*time.Millisecond)
}
