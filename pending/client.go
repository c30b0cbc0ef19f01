package pending

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lspforge/lsprt/wire"
)

// Client correlates server-to-client requests (ones this process sent to its
// peer) with their eventual responses, keyed by the request ID this process
// minted (spec.md §4.3).
type Client struct {
	mu      sync.Mutex
	waiters map[wire.ID]chan *wire.Response
	logger  *zap.Logger
}

// NewClient builds an empty Client registry. A nil logger is replaced with a
// no-op logger.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{waiters: make(map[wire.ID]chan *wire.Response), logger: logger}
}

// Wait creates a fresh one-shot slot under id and returns its receive side.
// Panics if id is already present: that indicates an ID-generation bug, not
// a recoverable runtime condition, per spec.md §4.3.
func (c *Client) Wait(id wire.ID) <-chan *wire.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.waiters[id]; exists {
		panic(fmt.Sprintf("pending: id %s already has an outstanding wait", id))
	}
	ch := make(chan *wire.Response, 1)
	c.waiters[id] = ch
	return ch
}

// Cancel removes id's waiter without delivering a response, used when a
// caller's cancellation token fires before the response arrives (spec.md
// §4.6 step 4). Returns false if no waiter was registered (response already
// arrived, or raced ahead of it).
func (c *Client) Cancel(id wire.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.waiters[id]
	if !ok {
		return false
	}
	delete(c.waiters, id)
	close(ch)
	return true
}

// Insert looks up resp's ID; if a waiter is present, removes the slot and
// delivers the response through it. Otherwise logs and discards — an
// uncorrelated insert is tolerated, not an error (spec.md §4.3). A response
// with a null ID is always discarded.
func (c *Client) Insert(resp *wire.Response) {
	if !resp.ID.IsValid() {
		c.logger.Warn("pending: discarding response with null id")
		return
	}
	c.mu.Lock()
	ch, ok := c.waiters[resp.ID]
	if ok {
		delete(c.waiters, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("pending: discarding uncorrelated response", zap.String("id", resp.ID.String()))
		return
	}
	ch <- resp
}

// Len reports the number of outstanding waiters; primarily for tests.
func (c *Client) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
