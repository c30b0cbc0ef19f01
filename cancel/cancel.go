// Package cancel implements the cancellation token/canceller pair used both
// for server-side in-flight handler cancellation (pending.Server.Cancel) and
// for the client handle's per-request cancellation tokens (spec.md §4.6,
// §4.7). It is grounded on the same shape lspower's Rust original uses
// (a single-owner canceller paired with many-observer tokens) expressed with
// a context.Context, the idiomatic Go stand-in for a cancellation signal with
// a "done" channel observers can select on.
package cancel

import "context"

// Canceller is the single-owner half of a cancellation pair. Calling Cancel
// more than once is a no-op after the first call.
type Canceller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Token is the many-observer half. Tokens may be handed to any number of
// goroutines; all of them observe the same cancellation.
type Token struct {
	ctx context.Context
}

// New creates a fresh, not-yet-cancelled Canceller/Token pair.
func New() (*Canceller, Token) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Canceller{ctx: ctx, cancel: cancel}
	return c, c.Token()
}

// Cancel signals the token side. Idempotent: only the first call has any
// effect, matching spec.md §4.6's "cancel() is idempotent" requirement.
func (c *Canceller) Cancel() {
	c.cancel()
}

// Token mints another observer of this canceller. A Token minted after
// Cancel has already been called immediately reports IsCancelled == true and
// a closed Done channel, matching spec.md §4.6's "tokens can be created
// after cancellation" requirement.
func (c *Canceller) Token() Token {
	return Token{ctx: c.ctx}
}

// IsCancelled reports whether the token has observed cancellation.
func (t Token) IsCancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel that closes once the token is cancelled. A token
// created after the canceller already fired returns an already-closed
// channel, so callers immediately observe is_cancelled == true, matching
// spec.md §4.6's "tokens can be created after cancellation" requirement.
func (t Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context exposes the token as a context.Context, for callers that want to
// race it against other context-based suspension points directly.
func (t Token) Context() context.Context {
	return t.ctx
}
