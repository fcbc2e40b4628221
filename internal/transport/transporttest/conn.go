package transporttest

import (
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rickgao/chainstream/internal/jsonrpc"
	"github.com/rickgao/chainstream/internal/transport"
)

// Conn is one fake socket. Server-side helpers (Accept, Deliver, Drop, Fail)
// enqueue events that are delivered in order from the Conn's own goroutine.
type Conn struct {
	network *Network
	events  chan func()

	mu        sync.Mutex
	url       string
	ev        transport.Events
	open      bool
	closed    bool
	finished  bool
	closeCode int
	sent      [][]byte
	pings     int
	pingErr   error
}

var _ transport.Transport = (*Conn)(nil)
var _ transport.Pinger = (*Conn)(nil)

// Open records the dial and, depending on the network settings, accepts or
// refuses it asynchronously.
func (c *Conn) Open(url string, ev transport.Events) {
	c.mu.Lock()
	c.url = url
	c.ev = ev
	c.mu.Unlock()

	go c.loop()

	select {
	case c.network.dialed <- c:
	default:
	}

	refuse, manual, _ := c.network.settings()
	switch {
	case refuse:
		c.Refuse()
	case manual:
	default:
		c.Accept()
	}
}

func (c *Conn) loop() {
	for fn := range c.events {
		fn()
	}
}

func (c *Conn) enqueue(fn func()) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.events <- fn
}

// finish enqueues the final close event; nothing is delivered after it.
func (c *Conn) finish(code int, reason string) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.closed = true
	c.open = false
	c.closeCode = code
	ev := c.ev
	c.mu.Unlock()

	c.events <- func() {
		if ev.OnClose != nil {
			ev.OnClose(code, reason)
		}
	}
}

// Accept completes a pending open.
func (c *Conn) Accept() {
	c.enqueue(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.open = true
		ev := c.ev
		c.mu.Unlock()
		if ev.OnOpen != nil {
			ev.OnOpen()
		}
	})
}

// Refuse fails a pending open with ErrRefused.
func (c *Conn) Refuse() {
	c.Fail(ErrRefused)
}

// Fail reports err and then closes abnormally.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	ev := c.ev
	c.mu.Unlock()
	c.enqueue(func() {
		if ev.OnError != nil {
			ev.OnError(err)
		}
	})
	c.finish(transport.CloseAbnormal, err.Error())
}

// Drop simulates the server closing the socket.
func (c *Conn) Drop(code int, reason string) {
	c.finish(code, reason)
}

// Deliver pushes an inbound frame.
func (c *Conn) Deliver(data []byte) {
	c.mu.Lock()
	ev := c.ev
	c.mu.Unlock()
	c.enqueue(func() {
		if ev.OnMessage != nil {
			ev.OnMessage(data)
		}
	})
}

// Send records the frame and passes requests to the network's responder.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if !c.open {
		c.mu.Unlock()
		return transport.ErrNotOpen
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	c.mu.Unlock()

	_, _, responder := c.network.settings()
	if responder == nil {
		return nil
	}
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}
	if resp := responder(c, req); resp != nil {
		c.Deliver(resp)
	}
	return nil
}

// Close closes the socket from the client side.
func (c *Conn) Close(code int, reason string) error {
	c.finish(code, reason)
	return nil
}

// Ping counts keep-alive pings.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrNotOpen
	}
	c.pings++
	return c.pingErr
}

// SetPingError makes subsequent pings fail with err.
func (c *Conn) SetPingError(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

// Pings returns the number of successful or failed pings.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// Sent returns a copy of every frame written by the client.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Requests decodes the frames written by the client.
func (c *Conn) Requests() []jsonrpc.Request {
	var out []jsonrpc.Request
	for _, data := range c.Sent() {
		var req jsonrpc.Request
		if err := json.Unmarshal(data, &req); err == nil && req.Method != "" {
			out = append(out, req)
		}
	}
	return out
}

// IsOpen reports whether the client side sees the socket as open.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// IsClosed reports whether the socket was closed by either side.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCode returns the code the socket closed with.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *Conn) openedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// IsRefused reports whether err is the fake refusal.
func IsRefused(err error) bool {
	return errors.Is(err, ErrRefused)
}
