package rn2903

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tve-iot/lora-responder/iface"
)

// pipePort is an in-memory serialPort backed by net.Pipe, standing in for
// a real RN2903 over UART in tests.
type pipePort struct {
	net.Conn
}

func (p pipePort) ResetInputBuffer() error { return nil }

// fakeModem drives the "far end" of the pipe: a tiny script that reads
// command lines and writes canned responses, modeling the RN2903's
// line-oriented protocol well enough to exercise the driver.
type fakeModem struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeModem(conn net.Conn) *fakeModem {
	return &fakeModem{conn: conn, reader: bufio.NewReader(conn)}
}

func (f *fakeModem) readLine(t *testing.T) string {
	t.Helper()
	line, err := f.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}

func (f *fakeModem) send(s string) {
	f.conn.Write([]byte(s + "\r\n"))
}

func newConnectedDriver(t *testing.T) (*Driver, *fakeModem) {
	t.Helper()
	client, server := net.Pipe()
	modem := newFakeModem(server)
	d := New("fake", nil)

	done := make(chan error, 1)
	go func() { done <- d.attach(context.Background(), pipePort{client}) }()

	// wake-up: drain the three blank CRLFs the handshake writes before the
	// real "sys get ver" command.
	for i := 0; i < 3; i++ {
		require.Equal(t, "", modem.readLine(t))
	}
	line := modem.readLine(t)
	require.Equal(t, "sys get ver", line)
	modem.send("RN2903 1.0.5")

	line = modem.readLine(t)
	require.Equal(t, "mac pause", line)
	modem.send("4294967245")

	require.NoError(t, <-done)
	return d, modem
}

func TestWakeupParsesVersionLine(t *testing.T) {
	d, _ := newConnectedDriver(t)
	assert.True(t, d.Connected())
	assert.Equal(t, "RN2903 1.0.5", d.version)
}

func TestTransmitCompletesOnRadioTxOk(t *testing.T) {
	d, modem := newConnectedDriver(t)

	result := make(chan struct {
		outcome iface.TxOutcome
		err     error
	}, 1)
	go func() {
		outcome, err := d.Transmit(context.Background(), []byte("hi"))
		result <- struct {
			outcome iface.TxOutcome
			err     error
		}{outcome, err}
	}()

	line := modem.readLine(t)
	assert.Equal(t, "radio tx 6869", line)
	modem.send("ok")
	modem.send("radio_tx_ok")

	select {
	case r := <-result:
		require.NoError(t, r.err)
		assert.Equal(t, iface.TxOk, r.outcome)
	case <-time.After(time.Second):
		t.Fatal("transmit did not complete")
	}
}

func TestTransmitReportsErrOnRadioErr(t *testing.T) {
	d, modem := newConnectedDriver(t)

	result := make(chan iface.TxOutcome, 1)
	go func() {
		outcome, _ := d.Transmit(context.Background(), []byte("hi"))
		result <- outcome
	}()

	modem.readLine(t)
	modem.send("ok")
	modem.send("radio_err")

	select {
	case outcome := <-result:
		assert.Equal(t, iface.TxErr, outcome)
	case <-time.After(time.Second):
		t.Fatal("transmit did not complete")
	}
}

func TestAsyncRadioRxPublishesFrameToSubscribers(t *testing.T) {
	d, modem := newConnectedDriver(t)

	events := make(chan iface.Event, 1)
	d.Subscribe("test", events)

	modem.send("radio_rx 4869")

	select {
	case ev := <-events:
		require.Equal(t, iface.EventRx, ev.Kind)
		assert.Equal(t, []byte("Hi"), ev.Frame.Bytes)
		assert.Nil(t, ev.Frame.RSSIDbm, "rn2903 must not fabricate rssi")
		assert.Nil(t, ev.Frame.SNRDb, "rn2903 must not fabricate snr")
	case <-time.After(time.Second):
		t.Fatal("no rx event delivered")
	}
}

func TestTransmitRejectsOversizePayload(t *testing.T) {
	d, _ := newConnectedDriver(t)
	_, err := d.Transmit(context.Background(), make([]byte, 256))
	require.Error(t, err)
}
