// Package transporttest provides an in-memory transport for deterministic
// connection tests and fault injection.
//
// A Network hands out Conns through its Factory. Each Conn delivers events from
// its own goroutine in FIFO order, mirroring a real socket's read loop.
package transporttest

import (
	"errors"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/jsonrpc"
	"github.com/rickgao/chainstream/internal/transport"
)

// ErrRefused is reported by Conns of a Network configured to refuse opens.
var ErrRefused = errors.New("connection refused")

// Responder answers a request sent over a Conn. Returning nil sends nothing.
type Responder func(c *Conn, req jsonrpc.Request) []byte

// Network creates fake connections and records every dial.
type Network struct {
	mu        sync.Mutex
	conns     []*Conn
	refuse    bool
	manual    bool
	responder Responder
	dialed    chan *Conn
}

// NewNetwork creates a network whose connections open immediately.
func NewNetwork() *Network {
	return &Network{dialed: make(chan *Conn, 64)}
}

// SetRefuse makes subsequent opens fail (or succeed again).
func (n *Network) SetRefuse(refuse bool) {
	n.mu.Lock()
	n.refuse = refuse
	n.mu.Unlock()
}

// SetManualOpen makes subsequent opens hang until Conn.Accept or Conn.Refuse.
func (n *Network) SetManualOpen(manual bool) {
	n.mu.Lock()
	n.manual = manual
	n.mu.Unlock()
}

// SetResponder installs a server-side request handler.
func (n *Network) SetResponder(r Responder) {
	n.mu.Lock()
	n.responder = r
	n.mu.Unlock()
}

// Factory returns a transport.Factory producing Conns on this network.
func (n *Network) Factory() transport.Factory {
	return func() transport.Transport {
		c := &Conn{
			network: n,
			events:  make(chan func(), 256),
		}
		n.mu.Lock()
		n.conns = append(n.conns, c)
		n.mu.Unlock()
		return c
	}
}

// Conns returns every connection created so far.
func (n *Network) Conns() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Conn(nil), n.conns...)
}

// Dials returns the number of Open calls made on this network.
func (n *Network) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, c := range n.conns {
		if c.openedURL() != "" {
			count++
		}
	}
	return count
}

// Dialed yields each Conn as Open is called on it.
func (n *Network) Dialed() <-chan *Conn {
	return n.dialed
}

// Last returns the most recently created connection, or nil.
func (n *Network) Last() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.conns) == 0 {
		return nil
	}
	return n.conns[len(n.conns)-1]
}

// SentRequests decodes every request sent on every connection, in order.
func (n *Network) SentRequests() []jsonrpc.Request {
	var out []jsonrpc.Request
	for _, c := range n.Conns() {
		out = append(out, c.Requests()...)
	}
	return out
}

// CountMethod counts requests with the given method across all connections.
func (n *Network) CountMethod(method string) int {
	count := 0
	for _, req := range n.SentRequests() {
		if req.Method == method {
			count++
		}
	}
	return count
}

func (n *Network) settings() (refuse, manual bool, r Responder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refuse, n.manual, n.responder
}

// SubscribeResponder answers every "*Subscribe" request with an increasing
// numeric subscription id and every "*Unsubscribe" request with true.
func SubscribeResponder() Responder {
	var mu sync.Mutex
	next := 0
	return func(c *Conn, req jsonrpc.Request) []byte {
		switch {
		case strings.HasSuffix(req.Method, "Unsubscribe"):
			return Result(req.ID, true)
		case strings.HasSuffix(req.Method, "Subscribe"):
			mu.Lock()
			id := next
			next++
			mu.Unlock()
			return Result(req.ID, id)
		}
		return nil
	}
}

// Result builds a success response frame.
func Result(id uint64, result any) []byte {
	raw, _ := json.Marshal(result)
	data, _ := json.Marshal(jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Result: raw})
	return data
}

// ErrorResult builds an error response frame.
func ErrorResult(id uint64, code int, message string) []byte {
	data, _ := json.Marshal(jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error:   &jsonrpc.Error{Code: code, Message: message},
	})
	return data
}

// Notification builds a subscription notification frame.
func Notification(method string, sub any, result any) []byte {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": jsonrpc.Version,
		"method":  method,
		"params": map[string]any{
			"subscription": sub,
			"result":       result,
		},
	})
	return data
}
