package connection

import (
	"github.com/rickgao/chainstream/internal/jsonrpc"
)

// result is delivered to the goroutine waiting on a request.
type result struct {
	value any
	err   error
}

// resultFunc interprets a successful response. It runs under the manager lock
// before the next inbound frame is routed. abandoned is true when the caller
// stopped waiting.
type resultFunc func(resp *jsonrpc.Response, abandoned bool) (any, error)

// pendingRequest is an in-flight request awaiting its response.
type pendingRequest struct {
	id        uint64
	method    string
	onResult  resultFunc
	done      chan result // buffered(1), written exactly once
	abandoned bool
}

// correlator assigns request ids and matches responses to pending requests.
// Not safe for concurrent use; the manager serializes access.
type correlator struct {
	nextID  uint64
	pending map[uint64]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[uint64]*pendingRequest),
	}
}

// register creates a pending request with the next id.
func (c *correlator) register(method string, onResult resultFunc) *pendingRequest {
	c.nextID++
	p := &pendingRequest{
		id:       c.nextID,
		method:   method,
		onResult: onResult,
		done:     make(chan result, 1),
	}
	c.pending[p.id] = p
	return p
}

// resolve completes the request matching resp.ID. Returns false for unknown ids.
func (c *correlator) resolve(resp *jsonrpc.Response) (*pendingRequest, bool) {
	p, ok := c.pending[resp.ID]
	if !ok {
		return nil, false
	}
	delete(c.pending, resp.ID)

	var r result
	switch {
	case resp.Error != nil:
		r.err = resp.Error
	case p.onResult != nil:
		r.value, r.err = p.onResult(resp, p.abandoned)
	default:
		r.value = resp.Result
	}
	p.done <- r
	return p, true
}

// remove forgets a request that was never sent.
func (c *correlator) remove(id uint64) {
	delete(c.pending, id)
}

// abandon marks a still-pending request as no longer awaited. Returns false
// if the request already completed.
func (c *correlator) abandon(id uint64) bool {
	p, ok := c.pending[id]
	if !ok {
		return false
	}
	p.abandoned = true
	return true
}

// dropAbandoned forgets abandoned requests; their responses can no longer arrive.
func (c *correlator) dropAbandoned() {
	for id, p := range c.pending {
		if p.abandoned {
			delete(c.pending, id)
		}
	}
}

// rejectAll fails every pending request with err.
func (c *correlator) rejectAll(err error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		p.done <- result{err: err}
	}
}

func (c *correlator) len() int {
	return len(c.pending)
}
