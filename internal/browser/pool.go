// internal/browser/pool.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultPoolSize caps concurrent browsers when no size is given
const DefaultPoolSize = 2

var (
	// ErrPoolClosed is returned by Get after Close
	ErrPoolClosed = errors.New("browser pool is closed")
	// ErrUnavailable wraps failures to start a browser
	ErrUnavailable = errors.New("browser unavailable")
)

// Pool hands out browsers, starting them on demand up to a cap
type Pool struct {
	factory Factory
	idle    chan Client
	maxSize int
	size    int
	mu      sync.Mutex
	closed  bool
}

// NewPool creates a pool of Chrome browsers built from config
func NewPool(config Config, maxSize int) *Pool {
	return NewPoolWithFactory(maxSize, func() (Client, error) {
		return NewChromeClient(config)
	})
}

// NewPoolWithFactory creates a pool that starts browsers with factory
func NewPoolWithFactory(maxSize int, factory Factory) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}
	return &Pool{
		factory: factory,
		idle:    make(chan Client, maxSize),
		maxSize: maxSize,
	}
}

// Get returns an idle browser, starts one when under the cap, or waits
// for one to be put back
func (p *Pool) Get(ctx context.Context) (Client, error) {
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		c, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return c, nil
	}
	p.mu.Unlock()

	select {
	case c := <-p.idle:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a browser. Unhealthy browsers, and any returned after
// Close, are shut down instead.
func (p *Pool) Put(c Client, healthy bool) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !healthy || p.closed {
		c.Close()
		p.size--
		return
	}
	select {
	case p.idle <- c:
	default:
		c.Close()
		p.size--
	}
}

// Render runs one render on a pooled browser. A browser that fails for
// reasons other than cancellation is discarded.
func (p *Pool) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	c, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.Render(ctx, req)
	p.Put(c, err == nil || ctx.Err() != nil)
	return res, err
}

// Size returns the number of idle browsers
func (p *Pool) Size() int {
	return len(p.idle)
}

// TotalSize returns the number of live browsers
func (p *Pool) TotalSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Close shuts down idle browsers; busy ones close when put back
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for {
		select {
		case c := <-p.idle:
			c.Close()
			p.size--
		default:
			return nil
		}
	}
}
