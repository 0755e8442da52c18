package echo

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tve-iot/lora-responder/iface"
)

// recordingFacade is a minimal iface.Capability fake that records Transmit
// calls and lets the test inject RX/TxDone events on demand.
type recordingFacade struct {
	subs map[iface.SubscriberID]chan<- iface.Event

	rxArmed      int32
	txCalls      int32
	lastTxAt     atomic.Value
	lastPayload  atomic.Value
}

func newRecordingFacade() *recordingFacade {
	return &recordingFacade{subs: make(map[iface.SubscriberID]chan<- iface.Event)}
}

func (f *recordingFacade) Connect(ctx context.Context) error { return nil }
func (f *recordingFacade) Disconnect() error                 { return nil }
func (f *recordingFacade) Transmit(ctx context.Context, payload []byte) (iface.TxOutcome, error) {
	atomic.AddInt32(&f.txCalls, 1)
	f.lastTxAt.Store(time.Now())
	f.lastPayload.Store(append([]byte{}, payload...))
	return iface.TxOk, nil
}
func (f *recordingFacade) ReceiveMode(ctx context.Context, timeoutMs int) error {
	atomic.AddInt32(&f.rxArmed, 1)
	return nil
}
func (f *recordingFacade) Subscribe(id iface.SubscriberID, ch chan<- iface.Event) {
	f.subs[id] = ch
}
func (f *recordingFacade) Unsubscribe(id iface.SubscriberID) { delete(f.subs, id) }
func (f *recordingFacade) GetRadioSettings() iface.Settings  { return iface.Settings{} }
func (f *recordingFacade) Connected() bool                   { return true }
func (f *recordingFacade) emit(ev iface.Event)                { f.subs[subscriberID] <- ev }

// TestEchoRespondsAfterConfiguredDelay covers scenario S5: an inbound frame
// "HI" with prefix "ECHO:" and echo_delay_ms=150 must produce a transmit of
// "ECHO:HI" no sooner than 150ms after receipt, and rx/tx counters of 1 each
// once TxDone arrives.
func TestEchoRespondsAfterConfiguredDelay(t *testing.T) {
	facade := newRecordingFacade()
	r := New(facade, nil)

	r.Start(Options{Prefix: []byte("ECHO:"), EchoDelayMs: 150})

	time.Sleep(120 * time.Millisecond) // let the initial ArmRx land

	rxAt := time.Now()
	facade.emit(iface.Event{Kind: iface.EventRx, Frame: iface.RxFrame{Bytes: []byte("HI")}})

	time.Sleep(250 * time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&facade.txCalls))
	payload, _ := facade.lastPayload.Load().([]byte)
	assert.Equal(t, []byte("ECHO:HI"), payload)

	txAt, _ := facade.lastTxAt.Load().(time.Time)
	assert.GreaterOrEqual(t, txAt.Sub(rxAt), 150*time.Millisecond)

	facade.emit(iface.Event{Kind: iface.EventTxDone, Outcome: iface.TxOk})
	time.Sleep(20 * time.Millisecond)

	status := r.GetStatus()
	assert.Equal(t, 1, status.RxCount)
	assert.Equal(t, 1, status.TxCount)

	r.Stop()
}

func TestEchoStopPreventsFurtherEchoes(t *testing.T) {
	facade := newRecordingFacade()
	r := New(facade, nil)
	r.Start(Options{Prefix: []byte("ECHO:"), EchoDelayMs: 30})
	time.Sleep(20 * time.Millisecond)

	r.Stop()

	before := atomic.LoadInt32(&facade.txCalls)
	time.Sleep(100 * time.Millisecond)
	after := atomic.LoadInt32(&facade.txCalls)
	assert.Equal(t, before, after)
}
