// Package echo implements the receive-and-echo turnaround responder of
// spec.md §4.6: subscribe to the radio facade, and for every received
// frame, wait out a half-duplex turnaround delay, transmit prefix||bytes,
// and re-arm receive.
//
// Like beacon, this is an actor with its own command channel plus
// self-scheduled timer messages (ArmRx, Echo), following the same
// worker-loop shape the teacher uses for its stateful drivers.
package echo

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tve-iot/lora-responder/iface"
)

const (
	defaultPrefix     = "ECHO:"
	defaultDelay      = 150 * time.Millisecond
	armRxInitialDelay = 100 * time.Millisecond
	armRxRetryDelay   = time.Second
)

type state int

const (
	stateIdle state = iota
	stateListening
	stateEchoing
	stateWaitingTxDone
)

const subscriberID iface.SubscriberID = "echo-responder"

// Options configures a Start call.
type Options struct {
	Prefix      []byte
	EchoDelayMs int
}

type startRequest struct {
	opts  Options
	reply chan struct{}
}

// Responder is the echo turnaround actor.
type Responder struct {
	facade iface.Capability
	log    *logrus.Entry

	starts     chan startRequest
	stops      chan chan struct{}
	statusReqs chan chan Status
	rxEvents   chan iface.Event
	timers     chan func()

	st        state
	prefix    []byte
	delay     time.Duration
	rxCount   int
	txCount   int
	cancelSeq int
}

// Status is a snapshot of the responder's counters and state.
type Status struct {
	Running bool
	RxCount int
	TxCount int
}

// New wraps facade; nothing runs until Start.
func New(facade iface.Capability, log *logrus.Entry) *Responder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Responder{
		facade:     facade,
		log:        log.WithField("component", "echo"),
		starts:     make(chan startRequest),
		stops:      make(chan chan struct{}),
		statusReqs: make(chan chan Status),
		rxEvents:   make(chan iface.Event, 16),
		timers:     make(chan func(), 16),
		prefix:     []byte(defaultPrefix),
		delay:      defaultDelay,
	}
	go r.run()
	return r
}

// Start subscribes to the facade and schedules the initial ArmRx.
func (r *Responder) Start(opts Options) {
	reply := make(chan struct{})
	r.starts <- startRequest{opts: opts, reply: reply}
	<-reply
}

// Stop unsubscribes and returns to Idle. Already-scheduled timers observe
// the Idle state and the bumped cancelSeq and no-op, per spec.md §4.6.
func (r *Responder) Stop() {
	done := make(chan struct{})
	r.stops <- done
	<-done
}

// GetStatus returns a snapshot of the responder's counters.
func (r *Responder) GetStatus() Status {
	reply := make(chan Status, 1)
	r.statusReqs <- reply
	return <-reply
}

// afterFunc schedules fn to run on the actor loop after d, tagged with
// seq so a Stop that bumps cancelSeq makes stale timers no-op.
func (r *Responder) afterFunc(d time.Duration, seq int, fn func(int)) {
	go func() {
		time.Sleep(d)
		r.timers <- func() { fn(seq) }
	}()
}

// run is the responder's actor loop: the only goroutine that touches
// state, issues facade calls, or reads rxEvents.
func (r *Responder) run() {
	for {
		select {
		case req := <-r.starts:
			if len(req.opts.Prefix) > 0 {
				r.prefix = req.opts.Prefix
			}
			if req.opts.EchoDelayMs > 0 {
				r.delay = time.Duration(req.opts.EchoDelayMs) * time.Millisecond
			}
			r.cancelSeq++
			seq := r.cancelSeq
			r.facade.Subscribe(subscriberID, r.rxEvents)
			r.st = stateListening // armed shortly; treat as listening-pending-arm
			r.afterFunc(armRxInitialDelay, seq, r.doArmRx)
			req.reply <- struct{}{}

		case done := <-r.stops:
			r.cancelSeq++
			r.facade.Unsubscribe(subscriberID)
			r.st = stateIdle
			close(done)

		case reply := <-r.statusReqs:
			reply <- Status{Running: r.st != stateIdle, RxCount: r.rxCount, TxCount: r.txCount}

		case ev := <-r.rxEvents:
			if r.st != stateIdle && ev.Kind == iface.EventRx && r.st == stateListening {
				r.rxCount++
				seq := r.cancelSeq
				payload := append(append([]byte{}, r.prefix...), ev.Frame.Bytes...)
				r.st = stateEchoing
				r.afterFunc(r.delay, seq, func(int) { r.doEcho(payload, seq) })
			} else if ev.Kind == iface.EventTxDone && r.st == stateWaitingTxDone {
				r.armAfterTx()
			}

		case fn := <-r.timers:
			fn()
		}
	}
}

func (r *Responder) doArmRx(seq int) {
	if r.st == stateIdle || seq != r.cancelSeq {
		return
	}
	if err := r.facade.ReceiveMode(context.Background(), 0); err != nil {
		r.log.WithError(err).Warn("arm_rx failed, retrying")
		r.afterFunc(armRxRetryDelay, seq, r.doArmRx)
		return
	}
	r.st = stateListening
}

func (r *Responder) doEcho(payload []byte, seq int) {
	if r.st == stateIdle || seq != r.cancelSeq {
		return
	}
	outcome, err := r.facade.Transmit(context.Background(), payload)
	r.txCount++
	if err == nil && outcome == iface.TxOk {
		r.st = stateWaitingTxDone
		return
	}
	r.log.WithError(err).WithField("outcome", outcome).Warn("echo transmit failed")
	r.armAfterTx()
}

// armAfterTx is the common TxDone/TxError continuation: schedule ArmRx
// and return to Listening.
func (r *Responder) armAfterTx() {
	if r.st == stateIdle {
		return
	}
	seq := r.cancelSeq
	r.st = stateListening
	r.afterFunc(0, seq, r.doArmRx)
}
