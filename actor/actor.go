// Package actor provides the single-threaded message-loop primitive used by
// the SX1276 driver. The RN2903 modem, the facade, the beacon, and the echo
// responder hand-roll the same request/reply shape with their own channels
// instead of importing this package.
//
// The owning component runs one goroutine that selects over its Mailbox
// alongside its own component-specific channels (TX requests, interrupt
// edges), so all mutation of that component's state is serialized without
// locks — the same guarantee the teacher's sx1276 worker() loop gives the
// radio's register-access sequence and mode transitions, generalized into
// a reusable shape.
package actor

import (
	"context"

	"github.com/pkg/errors"
)

// Job is a unit of work enqueued by Call: Run executes on the owning
// actor's goroutine, and the caller blocked in Call is released once Reply
// is invoked with Run's result.
type Job struct {
	Run   func() (interface{}, error)
	reply chan result
}

// Reply delivers Run's outcome back to the blocked Call. It must be invoked
// exactly once per Job received from CallChan.
func (j Job) Reply(val interface{}, err error) {
	j.reply <- result{val: val, err: err}
}

type result struct {
	val interface{}
	err error
}

// Mailbox is a FIFO inbox of pending work for one actor goroutine.
type Mailbox struct {
	calls chan Job
	casts chan func()
	done  chan struct{}
}

// NewMailbox creates a Mailbox with the given inbox depth.
func NewMailbox(depth int) *Mailbox {
	return &Mailbox{
		calls: make(chan Job, depth),
		casts: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// CallChan is the channel a Run loop selects on for call.Job requests; the
// loop must invoke job.Reply exactly once for every Job it receives.
func (m *Mailbox) CallChan() <-chan Job { return m.calls }

// CastChan is the channel a Run loop selects on for fire-and-forget work.
func (m *Mailbox) CastChan() <-chan func() { return m.casts }

// Done closes when the mailbox is shut down; a Run loop should exit its
// select loop when it fires.
func (m *Mailbox) Done() <-chan struct{} { return m.done }

// Call enqueues fn to run on the owning actor's goroutine and blocks for its
// result, honoring ctx's deadline. It mirrors the teacher's
// Command{Text, ResponseChan} request/reply shape, generalized to an
// arbitrary closure instead of a fixed AT-command string.
func (m *Mailbox) Call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	reply := make(chan result, 1)
	select {
	case m.calls <- Job{Run: fn, reply: reply}:
	case <-m.done:
		return nil, errors.New("actor: mailbox closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-m.done:
		return nil, errors.New("actor: mailbox closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cast enqueues fn to run on the owning actor's goroutine without waiting
// for completion. It matches spec's "cast never fails" semantics for things
// like subscribe/unsubscribe: if the inbox is momentarily full the send
// happens from a background goroutine instead of blocking the caller or
// silently dropping state-changing work; if the mailbox is closed the cast
// is dropped.
func (m *Mailbox) Cast(fn func()) {
	select {
	case m.casts <- fn:
	case <-m.done:
	default:
		go func() {
			select {
			case m.casts <- fn:
			case <-m.done:
			}
		}()
	}
}

// Close signals the owning Run loop to stop; already-queued Calls not yet
// picked up observe a mailbox-closed error instead of hanging.
func (m *Mailbox) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
