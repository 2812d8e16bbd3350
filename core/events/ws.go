package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/actyx-go/ax/core/aql"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is one message of the WebSocket framing: {type, requestId,
// payload?} for request/cancel, mirrored back as next/complete/error
// (spec.md §4.9/§6 "WebSocket mirrors the HTTP surface with one
// connection multiplexing many concurrent requests").
type wsFrame struct {
	Type      string          `json:"type"`
	RequestId string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// handleWebSocket upgrades the connection and serves request/cancel
// frames concurrently, one goroutine per in-flight request, matching the
// HTTP handlers' query/subscribe semantics but multiplexed over one
// socket instead of one response body per request.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	inFlight := newWSRequestTable()
	defer inFlight.cancelAll()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "request":
			ctx, cancel := inFlight.start(r.Context(), frame.RequestId)
			go s.serveWSRequest(ctx, conn, &writeMu, inFlight, frame, cancel)
		case "cancel":
			inFlight.cancel(frame.RequestId)
		default:
			writeWS(conn, &writeMu, wsFrame{Type: "error", RequestId: frame.RequestId,
				Payload: mustJSON(map[string]string{"message": "unknown frame type"})})
		}
	}
}

func (s *Server) serveWSRequest(ctx context.Context, conn *websocket.Conn, mu *sync.Mutex, inFlight *wsRequestTable, frame wsFrame, cancel context.CancelFunc) {
	defer cancel()
	defer inFlight.finish(frame.RequestId)

	var req queryRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		writeWS(conn, mu, wsFrame{Type: "error", RequestId: frame.RequestId,
			Payload: mustJSON(map[string]string{"message": "malformed payload"})})
		return
	}
	q, pipeline, order, err := s.compileQuery(req)
	if err != nil {
		writeWSError(conn, mu, frame.RequestId, err)
		return
	}

	lower := offset.Empty()
	if req.LowerBound != nil {
		if lower, err = decodeOffsetMap(*req.LowerBound); err != nil {
			writeWSError(conn, mu, frame.RequestId, utils.Wrapk(utils.KindInvalidInput, "malformed lowerBound", err))
			return
		}
	}

	var events <-chan eventstore.Event
	if req.UpperBound != nil {
		upperMap, err := decodeOffsetMap(*req.UpperBound)
		if err != nil {
			writeWSError(conn, mu, frame.RequestId, utils.Wrapk(utils.KindInvalidInput, "malformed upperBound", err))
			return
		}
		events, err = s.actor.BoundedForward(ctx, q, lower, offset.OffsetMapOrMax{Map: &upperMap}, order)
		if err != nil {
			writeWSError(conn, mu, frame.RequestId, err)
			return
		}
	} else {
		var err error
		events, err = s.actor.UnboundedForward(ctx, q, lower)
		if err != nil {
			writeWSError(conn, mu, frame.RequestId, err)
			return
		}
	}

	for ev := range events {
		for _, payload := range wsEmitEvent(pipeline, ev) {
			writeWS(conn, mu, wsFrame{Type: "next", RequestId: frame.RequestId, Payload: payload})
		}
	}
	writeWS(conn, mu, wsFrame{Type: "complete", RequestId: frame.RequestId})
}

// wsEmitEvent runs ev through pipeline (if any) and renders each resulting
// value as a JSON payload for a "next" frame.
func wsEmitEvent(pipeline *aql.Pipeline, ev eventstore.Event) []json.RawMessage {
	if pipeline == nil {
		return []json.RawMessage{mustJSON(eventRecord(ev, ev.Payload))}
	}
	val, err := aql.FromJSON(ev.Payload)
	if err != nil {
		return nil
	}
	outs, _, _ := pipeline.Feed(val, false)
	payloads := make([]json.RawMessage, 0, len(outs))
	for _, v := range outs {
		raw, err := v.ToJSON()
		if err != nil {
			continue
		}
		payloads = append(payloads, mustJSON(eventRecord(ev, json.RawMessage(raw))))
	}
	return payloads
}

func writeWSError(conn *websocket.Conn, mu *sync.Mutex, requestId string, err error) {
	kind, _ := utils.As(err)
	writeWS(conn, mu, wsFrame{Type: "error", RequestId: requestId,
		Payload: mustJSON(map[string]string{"kind": string(kind), "message": err.Error()})})
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func writeWS(conn *websocket.Conn, mu *sync.Mutex, frame wsFrame) {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteJSON(frame)
}

// wsRequestTable tracks the cancel funcs for in-flight requests on one
// connection, so a "cancel" frame can stop the matching "request" frame's
// goroutine.
type wsRequestTable struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newWSRequestTable() *wsRequestTable {
	return &wsRequestTable{cancels: make(map[string]context.CancelFunc)}
}

func (t *wsRequestTable) start(parent context.Context, id string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancels[id] = cancel
	t.mu.Unlock()
	return ctx, cancel
}

func (t *wsRequestTable) cancel(id string) {
	t.mu.Lock()
	cancel, ok := t.cancels[id]
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

func (t *wsRequestTable) finish(id string) {
	t.mu.Lock()
	delete(t.cancels, id)
	t.mu.Unlock()
}

func (t *wsRequestTable) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.cancels {
		cancel()
	}
}
