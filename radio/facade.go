// Package radio is the uniform facade spec.md §4.4 places over exactly
// one of the two LoRa backends (sx1276.Driver or rn2903.Driver), chosen
// once at startup. It never inherits from either backend — it holds one
// iface.Capability and forwards to it — the same "shim, not subclass"
// shape the teacher's shim.go uses to swap embd for another GPIO/SPI
// library underneath a fixed interface.
//
// C5's one piece of added behaviour beyond pure forwarding is subscriber
// fan-out: the facade subscribes itself to the backend once, and
// re-publishes every event to all of its own current subscribers, so
// higher components (beacon, echo) never see which backend is active.
package radio

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tve-iot/lora-responder/iface"
)

const facadeSubscriberID iface.SubscriberID = "radio-facade"

// Facade dispatches to a single backend capability chosen at startup. Its
// subscriber map is owned exclusively by the fanOut goroutine — Subscribe
// and Unsubscribe submit closures over subReqs rather than taking a lock,
// the same single-owner-goroutine discipline every other actor in this
// module uses.
type Facade struct {
	backend iface.Capability
	log     *logrus.Entry

	subs    map[iface.SubscriberID]chan<- iface.Event
	subReqs chan func()

	backendEvents chan iface.Event
	stop          chan struct{}
}

// New wraps backend and starts the fan-out goroutine. The facade
// subscribes itself to backend immediately; callers still drive
// Connect/Disconnect through the facade.
func New(backend iface.Capability, log *logrus.Entry) *Facade {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	f := &Facade{
		backend:       backend,
		log:           log.WithField("component", "radio_facade"),
		subs:          make(map[iface.SubscriberID]chan<- iface.Event),
		subReqs:       make(chan func(), 4),
		backendEvents: make(chan iface.Event, 16),
		stop:          make(chan struct{}),
	}
	backend.Subscribe(facadeSubscriberID, f.backendEvents)
	go f.fanOut()
	return f
}

// fanOut re-publishes every backend event to all current subscribers, in
// arrival order, per spec.md §4.4's ordering guarantee. It is the sole
// goroutine that reads or writes f.subs.
func (f *Facade) fanOut() {
	for {
		select {
		case ev := <-f.backendEvents:
			for _, ch := range f.subs {
				select {
				case ch <- ev:
				default:
					f.log.Warn("subscriber channel full, dropping event")
				}
			}
		case fn := <-f.subReqs:
			fn()
		case <-f.stop:
			return
		}
	}
}

// Connect opens the backend link.
func (f *Facade) Connect(ctx context.Context) error { return f.backend.Connect(ctx) }

// Disconnect tears down the backend link and stops fan-out.
func (f *Facade) Disconnect() error {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	return f.backend.Disconnect()
}

// Transmit forwards to the backend.
func (f *Facade) Transmit(ctx context.Context, payload []byte) (iface.TxOutcome, error) {
	return f.backend.Transmit(ctx, payload)
}

// ReceiveMode forwards to the backend.
func (f *Facade) ReceiveMode(ctx context.Context, timeoutMs int) error {
	return f.backend.ReceiveMode(ctx, timeoutMs)
}

// Subscribe registers a facade-level subscriber; it never touches the
// backend's own subscriber set directly (only the facade is subscribed to
// that).
func (f *Facade) Subscribe(id iface.SubscriberID, ch chan<- iface.Event) {
	done := make(chan struct{})
	f.subReqs <- func() { f.subs[id] = ch; close(done) }
	<-done
}

// Unsubscribe removes a facade-level subscriber.
func (f *Facade) Unsubscribe(id iface.SubscriberID) {
	done := make(chan struct{})
	f.subReqs <- func() { delete(f.subs, id); close(done) }
	<-done
}

// GetRadioSettings forwards to the backend.
func (f *Facade) GetRadioSettings() iface.Settings { return f.backend.GetRadioSettings() }

// Connected forwards to the backend.
func (f *Facade) Connected() bool { return f.backend.Connected() }

var _ iface.Capability = (*Facade)(nil)
