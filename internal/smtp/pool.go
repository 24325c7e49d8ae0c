package smtp

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/productdevbook/unemail/internal/email"
)

// Pool bounds the number of concurrent SMTP connections and reuses idle
// ready sessions across sends. Additional sends wait their turn for a
// free slot. A session only goes back on the idle list after a fully
// clean transaction; any failure discards it.
type Pool struct {
	client *Client

	// slots is a counting semaphore with one token per permitted
	// connection. Blocked receivers are served in FIFO order by the
	// runtime.
	slots chan struct{}

	mu     sync.Mutex
	idle   []*session
	closed bool
}

// NewPool creates a pool of at most maxConnections concurrent
// connections on top of client.
func NewPool(client *Client, maxConnections int) *Pool {
	if maxConnections < 1 {
		maxConnections = 1
	}
	slots := make(chan struct{}, maxConnections)
	for i := 0; i < maxConnections; i++ {
		slots <- struct{}{}
	}
	return &Pool{client: client, slots: slots}
}

// Send runs one transaction on a pooled connection, waiting for a free
// slot when the pool is saturated.
func (p *Pool) Send(ctx context.Context, opts *email.Options) (*email.Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, &email.Error{
			Kind:      email.KindConnection,
			Component: "smtp",
			Message:   "waiting for a pooled connection",
			Reason:    timeoutReason(ctx.Err()),
			Cause:     ctx.Err(),
		}
	}

	sess, err := p.takeIdle()
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	if sess == nil {
		sess, err = p.client.connect(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return nil, err
		}
	}

	res, err := sess.transact(opts)
	if err != nil {
		// A failed session is never reused; its protocol state is
		// unknown.
		sess.close()
		p.slots <- struct{}{}
		return nil, err
	}

	p.putIdle(sess)
	p.slots <- struct{}{}
	return res, nil
}

// takeIdle pops a ready session, or returns nil when a fresh connection
// is needed.
func (p *Pool) takeIdle() (*session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, &email.Error{
			Kind:      email.KindConnection,
			Component: "smtp",
			Message:   "pool is closed",
		}
	}
	if n := len(p.idle); n > 0 {
		sess := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return sess, nil
	}
	return nil, nil
}

func (p *Pool) putIdle(sess *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		sess.quit()
		sess.close()
		return
	}
	p.idle = append(p.idle, sess)
}

// Close quits and tears down every idle session. In-flight sends finish
// normally; their sessions are discarded on return.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, sess := range idle {
		sess.quit()
		sess.close()
	}
	if len(idle) > 0 {
		log.Debug().Int("connections", len(idle)).Msg("closed idle smtp connections")
	}
}
