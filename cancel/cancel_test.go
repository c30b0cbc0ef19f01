package cancel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenObservesCancel(t *testing.T) {
	c, tok := New()
	assert.False(t, tok.IsCancelled())

	c.Cancel()

	assert.True(t, tok.IsCancelled())
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel did not close")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	c, tok := New()
	c.Cancel()
	c.Cancel() // must not panic or block
	assert.True(t, tok.IsCancelled())
}

func TestTokenMintedAfterCancelIsAlreadyCancelled(t *testing.T) {
	c, _ := New()
	c.Cancel()

	late := c.Token()
	assert.True(t, late.IsCancelled())
	select {
	case <-late.Done():
	default:
		t.Fatal("late token's Done channel should already be closed")
	}
}

func TestMultipleTokensShareOneCanceller(t *testing.T) {
	c, tok1 := New()
	tok2 := c.Token()

	c.Cancel()

	assert.True(t, tok1.IsCancelled())
	assert.True(t, tok2.IsCancelled())
}
