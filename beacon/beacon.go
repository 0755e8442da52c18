// Package beacon implements the periodic transmit loop of spec.md §4.5:
// start/stop a self-ticking timer that submits a fixed message to the
// radio facade at a configurable interval, counting submissions. Each
// transmit runs on the actor loop and blocks it until the facade returns;
// ticks never overlap because the next one is scheduled only afterwards.
//
// The self-tick shape (schedule an immediate Tick, then re-schedule the
// next one only after the current transmit returns) is adapted from the
// teacher's worker-loop style used throughout sx1276/rfm69: one goroutine
// owns all state and a command channel, here augmented with a timer
// channel driving its own Tick messages instead of being driven purely by
// callers.
package beacon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tve-iot/lora-responder/errkind"
	"github.com/tve-iot/lora-responder/iface"
)

const (
	defaultMessage  = "BEACON"
	defaultInterval = 5 * time.Second
)

// Options configures a Start call; zero values fall back to the beacon's
// previous values, or the defaults on first start, per spec.md §4.5.
type Options struct {
	Message     []byte
	IntervalMs  int
}

type startRequest struct {
	opts  Options
	reply chan error
}

// Beacon is the periodic transmitter actor.
type Beacon struct {
	facade iface.Capability
	log    *logrus.Entry

	starts chan startRequest
	stops  chan chan struct{}
	statusReqs chan chan Status

	running     bool
	message     []byte
	interval    time.Duration
	txCount     int
	failCount   int
	stopTimer   chan struct{}
}

// Status is a snapshot of the beacon's counters, useful for tests and
// status reporting.
type Status struct {
	Running   bool
	TxCount   int
	FailCount int
}

// New wraps facade; nothing runs until Start.
func New(facade iface.Capability, log *logrus.Entry) *Beacon {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Beacon{
		facade:     facade,
		log:        log.WithField("component", "beacon"),
		starts:     make(chan startRequest),
		stops:      make(chan chan struct{}),
		statusReqs: make(chan chan Status),
		message:    []byte(defaultMessage),
		interval:   defaultInterval,
	}
	go b.run()
	return b
}

// Start begins the beacon, returning AlreadyRunning if it's already
// active. A zero Options falls back to the previous message/interval (or
// the defaults, on the very first start).
func (b *Beacon) Start(opts Options) error {
	reply := make(chan error, 1)
	b.starts <- startRequest{opts: opts, reply: reply}
	return <-reply
}

// Stop cancels the pending timer and marks the beacon stopped.
func (b *Beacon) Stop() {
	done := make(chan struct{})
	b.stops <- done
	<-done
}

// GetStatus returns a snapshot of the beacon's counters.
func (b *Beacon) GetStatus() Status {
	reply := make(chan Status, 1)
	b.statusReqs <- reply
	return <-reply
}

// run is the beacon's actor loop.
func (b *Beacon) run() {
	tick := make(chan struct{}, 1)

	scheduleTick := func(after time.Duration) chan struct{} {
		stop := make(chan struct{})
		go func() {
			select {
			case <-time.After(after):
				select {
				case tick <- struct{}{}:
				default:
				}
			case <-stop:
			}
		}()
		return stop
	}

	for {
		select {
		case req := <-b.starts:
			if b.running {
				req.reply <- errkind.New(errkind.AlreadyRunning, "start", "beacon already running")
				continue
			}
			if len(req.opts.Message) > 0 {
				b.message = req.opts.Message
			}
			if req.opts.IntervalMs > 0 {
				b.interval = time.Duration(req.opts.IntervalMs) * time.Millisecond
			}
			b.running = true
			if b.stopTimer != nil {
				close(b.stopTimer)
			}
			b.stopTimer = scheduleTick(0)
			req.reply <- nil

		case done := <-b.stops:
			b.running = false
			if b.stopTimer != nil {
				close(b.stopTimer)
				b.stopTimer = nil
			}
			close(done)

		case reply := <-b.statusReqs:
			reply <- Status{Running: b.running, TxCount: b.txCount, FailCount: b.failCount}

		case <-tick:
			if !b.running {
				continue
			}
			msg := append([]byte{}, b.message...)
			outcome, err := b.facade.Transmit(context.Background(), msg)
			b.txCount++
			if err != nil || outcome != iface.TxOk {
				b.failCount++
				b.log.WithError(err).WithField("outcome", outcome).Warn("beacon transmit failed")
			}
			if b.running {
				b.stopTimer = scheduleTick(b.interval)
			}
		}
	}
}
