package beacon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tve-iot/lora-responder/iface"
)

type countingFacade struct {
	calls int32
	last  atomic.Value
}

func (f *countingFacade) Connect(ctx context.Context) error { return nil }
func (f *countingFacade) Disconnect() error                 { return nil }
func (f *countingFacade) Transmit(ctx context.Context, payload []byte) (iface.TxOutcome, error) {
	atomic.AddInt32(&f.calls, 1)
	f.last.Store(append([]byte{}, payload...))
	return iface.TxOk, nil
}
func (f *countingFacade) ReceiveMode(ctx context.Context, timeoutMs int) error { return nil }
func (f *countingFacade) Subscribe(id iface.SubscriberID, ch chan<- iface.Event) {}
func (f *countingFacade) Unsubscribe(id iface.SubscriberID)                     {}
func (f *countingFacade) GetRadioSettings() iface.Settings                      { return iface.Settings{} }
func (f *countingFacade) Connected() bool                                       { return true }

func TestBeaconSixTicksOverOneSecond(t *testing.T) {
	facade := &countingFacade{}
	b := New(facade, nil)

	require.NoError(t, b.Start(Options{Message: []byte("B"), IntervalMs: 200}))

	time.Sleep(1050 * time.Millisecond)
	b.Stop()

	assert.EqualValues(t, 6, atomic.LoadInt32(&facade.calls))
	assert.Equal(t, []byte("B"), facade.last.Load().([]byte))
}

func TestBeaconStartTwiceReturnsAlreadyRunning(t *testing.T) {
	facade := &countingFacade{}
	b := New(facade, nil)
	require.NoError(t, b.Start(Options{Message: []byte("B"), IntervalMs: 200}))
	defer b.Stop()

	err := b.Start(Options{Message: []byte("B"), IntervalMs: 200})
	require.Error(t, err)
}

func TestBeaconStopPreventsFurtherTicks(t *testing.T) {
	facade := &countingFacade{}
	b := New(facade, nil)
	require.NoError(t, b.Start(Options{Message: []byte("B"), IntervalMs: 50}))
	time.Sleep(60 * time.Millisecond)
	b.Stop()

	before := atomic.LoadInt32(&facade.calls)
	time.Sleep(150 * time.Millisecond)
	after := atomic.LoadInt32(&facade.calls)
	assert.Equal(t, before, after, "no ticks should fire after Stop")
}
