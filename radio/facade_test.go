package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tve-iot/lora-responder/iface"
)

// fakeBackend is a minimal iface.Capability stand-in so facade tests don't
// depend on either real backend.
type fakeBackend struct {
	connected bool
	subs      map[iface.SubscriberID]chan<- iface.Event
	settings  iface.Settings
	txOutcome iface.TxOutcome
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{subs: make(map[iface.SubscriberID]chan<- iface.Event)}
}

func (b *fakeBackend) Connect(ctx context.Context) error { b.connected = true; return nil }
func (b *fakeBackend) Disconnect() error                 { b.connected = false; return nil }
func (b *fakeBackend) Transmit(ctx context.Context, payload []byte) (iface.TxOutcome, error) {
	return b.txOutcome, nil
}
func (b *fakeBackend) ReceiveMode(ctx context.Context, timeoutMs int) error { return nil }
func (b *fakeBackend) Subscribe(id iface.SubscriberID, ch chan<- iface.Event) {
	b.subs[id] = ch
}
func (b *fakeBackend) Unsubscribe(id iface.SubscriberID)   { delete(b.subs, id) }
func (b *fakeBackend) GetRadioSettings() iface.Settings    { return b.settings }
func (b *fakeBackend) Connected() bool                     { return b.connected }
func (b *fakeBackend) emit(ev iface.Event)                 { b.subs[facadeSubscriberID] <- ev }

func TestFacadeForwardsConnectAndSettings(t *testing.T) {
	backend := newFakeBackend()
	backend.settings = iface.Settings{FrequencyHz: 915_000_000}
	f := New(backend, nil)

	require.NoError(t, f.Connect(context.Background()))
	assert.True(t, f.Connected())
	assert.Equal(t, uint32(915_000_000), f.GetRadioSettings().FrequencyHz)
}

func TestFacadeFansOutToMultipleSubscribers(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, nil)

	a := make(chan iface.Event, 1)
	b := make(chan iface.Event, 1)
	f.Subscribe("a", a)
	f.Subscribe("b", b)

	backend.emit(iface.Event{Kind: iface.EventRx, Frame: iface.RxFrame{Bytes: []byte("x")}})

	for name, ch := range map[string]chan iface.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			assert.Equal(t, iface.EventRx, ev.Kind, "subscriber %s", name)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received event", name)
		}
	}
}

func TestFacadeUnsubscribeStopsDelivery(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, nil)

	ch := make(chan iface.Event, 1)
	f.Subscribe("a", ch)
	f.Unsubscribe("a")

	backend.emit(iface.Event{Kind: iface.EventTxDone, Outcome: iface.TxOk})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
