package sx1276

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tve-iot/lora-responder/iface"
)

// fakeRegIO is an in-memory register file standing in for hal.RegisterIO in
// tests, so the actor loop's dispatch logic can be exercised without real
// SPI hardware.
type fakeRegIO struct {
	mu   sync.Mutex
	regs map[byte]byte
	fifo []byte
}

func newFakeRegIO(version byte) *fakeRegIO {
	return &fakeRegIO{regs: map[byte]byte{regVersion: version}}
}

func (f *fakeRegIO) ReadReg(addr byte) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr], nil
}

func (f *fakeRegIO) WriteReg(addr, val byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr == regIRQFlags {
		// the IRQ flags register is write-1-to-clear on the real chip
		f.regs[addr] &^= val
		return nil
	}
	f.regs[addr] = val
	return nil
}

func (f *fakeRegIO) WriteBurst(addr byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fifo = append([]byte{}, data...)
	return nil
}

func (f *fakeRegIO) ReadBurst(addr byte, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.fifo) {
		n = len(f.fifo)
	}
	return append([]byte{}, f.fifo[:n]...), nil
}

func (f *fakeRegIO) setIRQ(flags byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[regIRQFlags] = flags
}

func (f *fakeRegIO) set(addr, val byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = val
}

// fakeLines is a no-op stand-in for hal.Lines; WaitDIO0 blocks on a
// manually-fired channel so tests control exactly when an edge is seen.
type fakeLines struct {
	edges chan struct{}
}

func newFakeLines() *fakeLines { return &fakeLines{edges: make(chan struct{}, 4)} }

func (l *fakeLines) PulseReset(low, high time.Duration) error { return nil }

func (l *fakeLines) fire() { l.edges <- struct{}{} }

func (l *fakeLines) WaitDIO0(timeout time.Duration) bool {
	select {
	case <-l.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestBeginSucceedsWithCorrectChipVersion(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	d := New(io, newFakeLines(), nil)

	err := d.Begin(context.Background(), 915_000_000)
	require.NoError(t, err)
	assert.True(t, d.Connected())
	assert.Equal(t, uint32(915_000_000), d.GetRadioSettings().FrequencyHz)
}

func TestBeginRejectsWrongChipVersion(t *testing.T) {
	io := newFakeRegIO(0x99)
	d := New(io, newFakeLines(), nil)

	err := d.Begin(context.Background(), 915_000_000)
	require.Error(t, err)
	assert.False(t, d.Connected())
	assert.Contains(t, err.Error(), "chip")
}

func TestRxDoneDeliversFrameWithRSSIAndSNR(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	ln := newFakeLines()
	d := New(io, ln, nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))
	require.NoError(t, d.ReceiveMode(context.Background(), 0))

	events := make(chan iface.Event, 1)
	d.Subscribe("test", events)
	time.Sleep(5 * time.Millisecond) // let the Subscribe cast land

	io.WriteBurst(regFIFO, []byte("hi"))
	io.set(regRxNbBytes, 2)
	io.set(regPktRSSI, 157) // -> 0 dBm
	io.set(regPktSNR, 20)   // -> 5.0 dB, raw<=127
	io.setIRQ(irqRxDone)
	ln.fire()

	select {
	case ev := <-events:
		require.Equal(t, iface.EventRx, ev.Kind)
		assert.Equal(t, []byte("hi"), ev.Frame.Bytes)
		require.NotNil(t, ev.Frame.RSSIDbm)
		assert.EqualValues(t, 0, *ev.Frame.RSSIDbm)
		require.NotNil(t, ev.Frame.SNRDb)
		assert.InDelta(t, 5.0, *ev.Frame.SNRDb, 0.01)
	case <-time.After(time.Second):
		t.Fatal("no rx event delivered")
	}
}

func TestRxDoneWithCRCErrorDropsFrameSilently(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	ln := newFakeLines()
	d := New(io, ln, nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))
	require.NoError(t, d.ReceiveMode(context.Background(), 0))

	events := make(chan iface.Event, 1)
	d.Subscribe("test", events)
	time.Sleep(5 * time.Millisecond)

	io.setIRQ(irqRxDone | irqPayloadCrc)
	ln.fire()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	flags, _ := io.ReadReg(regIRQFlags)
	assert.Equal(t, byte(0), flags, "both rx_done and crc_error bits must be cleared")
}

func TestTransmitReportsOkOnTxDoneEdge(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	ln := newFakeLines()
	d := New(io, ln, nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))

	go func() {
		time.Sleep(20 * time.Millisecond)
		io.setIRQ(irqTxDone)
		ln.fire()
	}()

	outcome, err := d.Transmit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, iface.TxOk, outcome)
}

func TestTransmitRejectsOversizePayload(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	d := New(io, newFakeLines(), nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))

	_, err := d.Transmit(context.Background(), make([]byte, 256))
	require.Error(t, err)
}

func TestSpreadingFactorSixRequiresImplicitHeader(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	d := New(io, newFakeLines(), nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))

	err := d.SetSpreadingFactor(context.Background(), 6)
	require.Error(t, err, "sf6 without implicit header must be rejected")
}

func TestFrequencyRoundTrip(t *testing.T) {
	for _, hz := range []uint32{868_100_000, 915_000_000, 433_000_000} {
		frf := frfFromFreq(hz)
		got := freqFromFrf(frf)
		assert.InDelta(t, hz, got, 100, "round trip for %d", hz)
	}
}

func TestTxPowerSplitsPADacAtSeventeen(t *testing.T) {
	io := newFakeRegIO(chipVersion)
	d := New(io, newFakeLines(), nil)
	require.NoError(t, d.Begin(context.Background(), 915_000_000))

	require.NoError(t, d.SetTxPower(context.Background(), 17))
	padac, _ := io.ReadReg(regPADac)
	assert.Equal(t, byte(0x84), padac)

	require.NoError(t, d.SetTxPower(context.Background(), 20))
	padac, _ = io.ReadReg(regPADac)
	assert.Equal(t, byte(0x87), padac)
}
