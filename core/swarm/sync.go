package swarm

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/actyx-go/ax/pkg/utils"
)

// blockSyncProtocol is the direct-stream protocol used for on-demand block
// fetch: a reduced bitswap, since go-bitswap itself is not part of the
// dependency pack this module draws from (see DESIGN.md).
const blockSyncProtocol protocol.ID = "/ax/blocksync/1.0.0"

type blockRequest struct {
	CIDs [][]byte `cbor:"c"`
}

type blockEntry struct {
	CID  []byte `cbor:"c"`
	Data []byte `cbor:"d"`
}

type blockResponse struct {
	Blocks []blockEntry `cbor:"b"`
}

func (s *Swarm) registerBlockSyncHandler() {
	s.host.SetStreamHandler(blockSyncProtocol, func(st network.Stream) {
		defer st.Close()
		var req blockRequest
		dec := cbor.NewDecoder(bufio.NewReader(st))
		if err := dec.Decode(&req); err != nil {
			s.log.WithError(err).Warn("blocksync: decode request failed")
			return
		}

		resp := blockResponse{}
		for _, raw := range req.CIDs {
			c, err := cid.Cast(raw)
			if err != nil {
				continue
			}
			data, err := s.bs.Get(s.ctx, c)
			if err != nil {
				continue
			}
			resp.Blocks = append(resp.Blocks, blockEntry{CID: raw, Data: data})
		}

		w := bufio.NewWriter(st)
		if err := cbor.NewEncoder(w).Encode(resp); err != nil {
			s.log.WithError(err).Warn("blocksync: encode response failed")
			return
		}
		_ = w.Flush()
	})
}

// requestBlocks fetches the given CIDs from a single peer over a direct
// libp2p stream, returning whatever that peer had.
func (s *Swarm) requestBlocks(ctx context.Context, p peer.ID, cids []cid.Cid) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BitswapTimeout)
	defer cancel()

	st, err := s.host.NewStream(ctx, p, blockSyncProtocol)
	if err != nil {
		return nil, utils.Wrapk(utils.KindUnreachable, "blocksync: open stream", err)
	}
	defer st.Close()

	req := blockRequest{CIDs: make([][]byte, len(cids))}
	for i, c := range cids {
		req.CIDs[i] = c.Bytes()
	}
	if err := cbor.NewEncoder(st).Encode(req); err != nil {
		return nil, utils.Wrapk(utils.KindIO, "blocksync: send request", err)
	}

	var resp blockResponse
	if err := cbor.NewDecoder(bufio.NewReader(st)).Decode(&resp); err != nil {
		return nil, utils.Wrapk(utils.KindIO, "blocksync: read response", err)
	}

	out := make(map[string][]byte, len(resp.Blocks))
	for _, b := range resp.Blocks {
		c, err := cid.Cast(b.CID)
		if err != nil {
			continue
		}
		out[c.String()] = b.Data
	}
	return out, nil
}

// SyncStream represents an in-progress recursive fetch of root and its
// transitive closure from the given candidate peers (spec.md §4.7
// "Slow path / bitswap"). Progress is queryable while the fetch runs.
type SyncStream struct {
	s    *Swarm
	root cid.Cid

	mu       sync.Mutex
	received int
	missing  int
	done     bool
	err      error
}

// StartSync begins a SyncStream for root against the given candidate peers.
// It returns immediately; poll Progress and Err for status.
func (s *Swarm) StartSync(ctx context.Context, root cid.Cid, candidates []peer.ID) *SyncStream {
	ss := &SyncStream{s: s, root: root}
	go ss.run(ctx, candidates)
	return ss
}

func (ss *SyncStream) run(ctx context.Context, candidates []peer.ID) {
	for {
		missing := ss.s.bs.MissingBlocks(ctx, ss.root)
		ss.mu.Lock()
		ss.missing = len(missing)
		ss.mu.Unlock()

		if len(missing) == 0 {
			ss.mu.Lock()
			ss.done = true
			ss.mu.Unlock()
			return
		}

		progressed := false
		for _, p := range candidates {
			got, err := ss.s.requestBlocks(ctx, p, missing)
			if err != nil {
				continue
			}
			for _, data := range got {
				if _, err := ss.s.bs.Put(ctx, data); err == nil {
					progressed = true
					ss.mu.Lock()
					ss.received++
					ss.mu.Unlock()
				}
			}
		}

		if !progressed {
			select {
			case <-ctx.Done():
				ss.mu.Lock()
				ss.done, ss.err = true, ctx.Err()
				ss.mu.Unlock()
				return
			case <-time.After(ss.s.cfg.BitswapTimeout):
				ss.mu.Lock()
				ss.done, ss.err = true, utils.New(utils.KindUnreachable, "sync: no peer had missing blocks")
				ss.mu.Unlock()
				return
			}
		}
	}
}

// Progress reports blocks received so far and the current missing count.
func (ss *SyncStream) Progress() (received, missing int, done bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.received, ss.missing, ss.done
}

// Err returns the terminal error, if the sync stopped without completing.
func (ss *SyncStream) Err() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.err
}
