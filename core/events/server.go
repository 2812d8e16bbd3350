// Package events implements C9: the /api/v2/events HTTP+WebSocket surface
// over the event store actor (C7) and the AQL query runtime (C8), per
// spec.md §4.9. Routing follows the teacher's walletserver/routes.go
// controller-registration style, generalized onto go-chi/chi (the
// teacher's go.mod already names chi as its primary router; see
// DESIGN.md/SPEC_FULL.md).
package events

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/actyx-go/ax/core/aql"
	"github.com/actyx-go/ax/core/banyan"
	"github.com/actyx-go/ax/core/eventstore"
	"github.com/actyx-go/ax/core/offset"
	"github.com/actyx-go/ax/core/tagindex"
	"github.com/actyx-go/ax/pkg/utils"
)

// Server exposes the events API over an eventstore.Actor.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	actor *eventstore.Actor
	self  offset.NodeId

	auth      Authenticator
	authorize AuthorizeFunc

	sessions *sessionStore

	nodeInfo func() NodeInfo

	log *logrus.Entry
}

// NodeInfo answers GET /api/v2/node/{id,info} (spec.md §6); the coordinator
// supplies the callback since swarm/host identity lives in C10's wiring.
type NodeInfo struct {
	NodeId      string `json:"nodeId"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
}

// Options configures a Server.
type Options struct {
	Addr            string
	Actor           *eventstore.Actor
	Self            offset.NodeId
	Auth            Authenticator
	Authorize       AuthorizeFunc
	NodeInfo        func() NodeInfo
	SessionIdleTime time.Duration
}

// NewServer builds the router and underlying http.Server, but does not
// start listening (call Start).
func NewServer(opts Options) *Server {
	if opts.Authorize == nil {
		opts.Authorize = AllowAll
	}
	if opts.SessionIdleTime <= 0 {
		opts.SessionIdleTime = 10 * time.Minute
	}

	s := &Server{
		actor:     opts.Actor,
		self:      opts.Self,
		auth:      opts.Auth,
		authorize: opts.Authorize,
		sessions:  newSessionStore(opts.SessionIdleTime),
		nodeInfo:  opts.NodeInfo,
		log:       logrus.WithField("component", "events"),
	}
	if s.nodeInfo == nil {
		s.nodeInfo = func() NodeInfo { return NodeInfo{NodeId: opts.Self.String()} }
	}

	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Route("/api/v2/events", func(r chi.Router) {
		if s.auth != nil {
			r.Use(authMiddleware(s.auth, s.authorize))
		}
		r.Get("/offsets", s.handleOffsets)
		r.Post("/publish", s.handlePublish)
		r.Post("/query", s.handleQuery)
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/subscribe_monotonic", s.handleSubscribeMonotonic)
		r.Get("/", s.handleWebSocket)
	})
	r.Route("/api/v2/node", func(r chi.Router) {
		r.Get("/id", s.handleNodeId)
		r.Get("/info", s.handleNodeInfo)
	})
	s.router = r
	s.httpServer = &http.Server{Addr: opts.Addr, Handler: r}
	return s
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests up to ctx's deadline (spec.md §4.10 "Shutdown ... waits for
// in-flight queries to observe cancellation").
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	resp, err := s.actor.Offsets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOffsetsResponse(resp))
}

func (s *Server) handleNodeId(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"nodeId": s.self.String()})
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.nodeInfo())
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed publish body", err))
		return
	}

	appId := ""
	if claims != nil {
		appId = claims.AppId
	}
	stream := streamForApp(s.self, appId)

	items := make([]eventstore.PersistItem, len(req.Data))
	for i, it := range req.Data {
		items[i] = eventstore.PersistItem{Tags: tagindex.NewTagSet(toTags(it.Tags)...), Payload: []byte(it.Payload)}
	}

	metas, err := s.actor.Persist(r.Context(), stream, appId, items)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]persistenceMetaWire, len(metas))
	for i, m := range metas {
		out[i] = persistenceMetaWire{Lamport: m.Lamport, Offset: uint64(m.Offset), Stream: m.Stream.String(), Timestamp: m.Micros}
	}
	writeJSON(w, http.StatusOK, publishResponse{Data: out})
}

func toTags(in []string) []tagindex.Tag {
	out := make([]tagindex.Tag, len(in))
	for i, t := range in {
		out[i] = tagindex.Tag(t)
	}
	return out
}

// streamForApp derives a deterministic local stream number from an AppId.
// spec.md names "eventRouting" as a configuration key but does not fix how
// an AppId maps to a StreamNr; this implementation uses one stream per
// distinct AppId on the local node, which is the simplest routing that
// satisfies "(NodeId, StreamNr) uniquely names a StreamId" (spec.md §3).
// See DESIGN.md's Open Question log.
func streamForApp(self offset.NodeId, appId string) offset.StreamId {
	h := fnv.New64a()
	_, _ = h.Write([]byte(appId))
	return offset.StreamId{Node: self, Nr: offset.StreamNr(h.Sum64())}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed query body", err))
		return
	}
	q, pipeline, order, err := s.compileQuery(req)
	if err != nil {
		writeError(w, err)
		return
	}
	lower := offset.Empty()
	if req.LowerBound != nil {
		if lower, err = decodeOffsetMap(*req.LowerBound); err != nil {
			writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed lowerBound", err))
			return
		}
	}
	if req.UpperBound == nil {
		writeError(w, utils.New(utils.KindInvalidInput, "query requires an upperBound"))
		return
	}
	upperMap, err := decodeOffsetMap(*req.UpperBound)
	if err != nil {
		writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed upperBound", err))
		return
	}
	for _, e := range upperMap.StreamIter() {
		if OffsetOrMinLess(e.Offset, lower.Offset(e.Stream)) {
			writeError(w, utils.New(utils.KindInvalidInput, "upperBound must not precede lowerBound"))
			return
		}
	}
	upper := offset.OffsetMapOrMax{Map: &upperMap}

	events, err := s.actor.BoundedForward(r.Context(), q, lower, upper, order)
	if err != nil {
		writeError(w, err)
		return
	}
	streamNDJSON(w, r.Context(), events, pipeline, false)
}

// OffsetOrMinLess compares a real offset against an OffsetOrMin bookmark;
// handleQuery uses it to reject an upperBound below the lowerBound.
func OffsetOrMinLess(o offset.Offset, bookmark offset.OffsetOrMin) bool {
	return offset.FromOffset(o) < bookmark
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed subscribe body", err))
		return
	}
	q, pipeline, _, err := s.compileQuery(req)
	if err != nil {
		writeError(w, err)
		return
	}
	lower := offset.Empty()
	if req.LowerBound != nil {
		if lower, err = decodeOffsetMap(*req.LowerBound); err != nil {
			writeError(w, utils.Wrapk(utils.KindInvalidInput, "malformed lowerBound", err))
			return
		}
	}

	events, err := s.actor.UnboundedForward(r.Context(), q, lower)
	if err != nil {
		writeError(w, err)
		return
	}
	streamNDJSON(w, r.Context(), events, pipeline, false)
}

// compileQuery parses req.Query into a tag-index Query (for C7's
// pruning-aware traversal) plus a runnable C8 Pipeline for the stages
// after FROM, and the requested Order.
func (s *Server) compileQuery(req queryRequest) (banyan.Query, *aql.Pipeline, eventstore.Order, error) {
	parsed, err := aql.Parse(req.Query)
	if err != nil {
		return banyan.Query{}, nil, 0, utils.Wrapk(utils.KindInvalidInput, "invalid AQL query", err)
	}
	dnf := tagindex.Normalize(parsed.From)
	q := banyan.Query{DNF: dnf}
	pipeline := aql.Build(parsed)

	order := eventstore.OrderAsc
	switch req.Order {
	case "Desc":
		order = eventstore.OrderDesc
	case "StreamAsc":
		order = eventstore.OrderStreamAsc
	}
	return q, pipeline, order, nil
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := utils.As(err)
	status := http.StatusInternalServerError
	if ok {
		switch kind {
		case utils.KindInvalidInput, utils.KindPathInvalid, utils.KindFileExists:
			status = http.StatusBadRequest
		case utils.KindUnauthorized:
			status = http.StatusUnauthorized
		case utils.KindOverloaded, utils.KindShutdown:
			status = http.StatusServiceUnavailable
		case utils.KindUnreachable:
			status = http.StatusGatewayTimeout
		case utils.KindIO, utils.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"kind": string(kind), "message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
