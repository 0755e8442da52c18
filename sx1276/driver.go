// Package sx1276 drives a Semtech SX1276-family LoRa radio over SPI, with
// a manually-toggled chip-select line and a DIO0 interrupt signaling both
// TX-done and RX-done depending on the radio's current mode.
//
// The driver is organized as the teacher's sx1276.Radio was: one goroutine
// (run) owns all chip state and selects over command calls, DIO0 edges, and
// TX-timeout/poll timers, so register-access sequences (CS-low / transfer /
// CS-high) and mode transitions never interleave. Unlike the teacher, which
// only supported continuous receive and a fixed table of bw/sf/cr presets,
// every parameter is independently settable per spec.md §4.2, and the
// Capability surface (package iface) is shared with the RN2903 UART modem
// backend.
package sx1276

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tve-iot/lora-responder/actor"
	"github.com/tve-iot/lora-responder/errkind"
	"github.com/tve-iot/lora-responder/iface"
	"github.com/tve-iot/lora-responder/thread"
)

// txTimeout is the maximum time Transmit will wait for TxDone before
// reporting iface.TxTimeout, per spec.md §4.2.
const txTimeout = 5 * time.Second

// txPollInterval is how often the IRQ register is polled for TxDone while
// also waiting on the DIO0 edge, per spec.md §4.2 ("whichever occurs
// first").
const txPollInterval = 10 * time.Millisecond

// regIO is the register transport the driver needs; hal.RegisterIO
// satisfies it, and tests substitute a fake.
type regIO interface {
	ReadReg(addr byte) (byte, error)
	WriteReg(addr, val byte) error
	WriteBurst(addr byte, data []byte) error
	ReadBurst(addr byte, n int) ([]byte, error)
}

// lines is the GPIO surface the driver needs; hal.Lines satisfies it, and
// tests substitute a fake.
type lines interface {
	PulseReset(low, high time.Duration) error
	WaitDIO0(timeout time.Duration) bool
}

// Driver is a Semtech SX1276-family LoRa radio.
type Driver struct {
	io   regIO
	ln   lines
	log  *logrus.Entry
	mbox *actor.Mailbox

	txReqs chan txRequest

	// actor-owned state, touched only from run().
	config      RadioConfig
	curMode     mode
	connected   bool
	subs        map[iface.SubscriberID]chan<- iface.Event
	rxArmed    bool
	pendingTx  *txRequest
	edgeCh     chan struct{}
	stopReader chan struct{}
	readerDone chan struct{}
}

type txRequest struct {
	payload []byte
	reply   chan txResult
}

type txResult struct {
	outcome iface.TxOutcome
	err     error
}

// New wraps an already-configured register transport and GPIO lines. The
// caller (typically hal.OpenHardware's result, or a test fake) owns
// opening and closing the underlying SPI/GPIO handles.
func New(io regIO, ln lines, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Driver{
		io:         io,
		ln:         ln,
		log:        log.WithField("component", "sx1276"),
		mbox:       actor.NewMailbox(8),
		txReqs:     make(chan txRequest, 1),
		subs:       make(map[iface.SubscriberID]chan<- iface.Event),
		edgeCh:     make(chan struct{}, 1),
		stopReader: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go d.watchDIO0()
	go d.run()
	return d
}

// Begin performs the init sequence of spec.md §4.2: reset pulse, chip
// version check, LoRa+Sleep latch delay, Frf programming, FIFO base
// addresses, LNA boost, auto-AGC, default parameters, and finally Standby.
// The actor goroutine and DIO0 edge reader are already running (started by
// New), so doBegin's register accesses are routed through d.mbox like every
// other command, rather than running on the caller's goroutine.
func (d *Driver) Begin(ctx context.Context, freqHz uint32) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		return nil, d.doBegin(freqHz)
	})
	if err != nil {
		return err
	}
	d.log.WithField("freq_hz", freqHz).Info("radio initialized")
	return nil
}

// doBegin runs the register-access steps of the init sequence only. It must
// only ever be called from the actor goroutine (via d.mbox.Call), since it
// touches d.config/d.curMode directly.
func (d *Driver) doBegin(freqHz uint32) error {
	if err := d.ln.PulseReset(10*time.Millisecond, 10*time.Millisecond); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: reset", err)
	}

	version, err := d.io.ReadReg(regVersion)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "begin: read version", err)
	}
	if version != chipVersion {
		return errkind.New(errkind.InvalidChip, "begin",
			fmt.Sprintf("unexpected chip version %#x, want %#x", version, chipVersion))
	}

	if err := d.io.WriteReg(regOpMode, opmodeLoRaBit|opmodeSleep); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: lora+sleep", err)
	}
	d.curMode = modeSleep
	time.Sleep(10 * time.Millisecond) // mandatory for the LoRa-mode bit to latch

	cfg := DefaultRadioConfig(freqHz)

	if err := d.writeFrf(freqHz); err != nil {
		return err
	}
	if err := d.io.WriteReg(regFIFOTXBase, 0x00); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: fifo tx base", err)
	}
	if err := d.io.WriteReg(regFIFORXBase, 0x00); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: fifo rx base", err)
	}
	lna, err := d.io.ReadReg(regLNA)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "begin: read lna", err)
	}
	if err := d.io.WriteReg(regLNA, lna|0x03); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: lna boost", err)
	}
	if err := d.io.WriteReg(regModemConf3, 0x04); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: auto-agc", err)
	}

	if err := d.applyDefaults(cfg); err != nil {
		return err
	}

	if err := d.setMode(modeStandby); err != nil {
		return err
	}
	d.config = cfg
	d.connected = true
	return nil
}

// applyDefaults programs the step-9 defaults directly (bypassing the
// standby-wrapped public setters, since Begin holds the chip in LoRa sleep
// at this point and only enters Standby once the defaults are written).
func (d *Driver) applyDefaults(cfg RadioConfig) error {
	if err := d.writeSpreadingFactor(cfg.SpreadingFactor); err != nil {
		return err
	}
	if err := d.writeBandwidth(cfg.BandwidthHz); err != nil {
		return err
	}
	if err := d.writeCodingRate(cfg.CodingRate); err != nil {
		return err
	}
	if err := d.writeTxPower(cfg.TxPowerDbm); err != nil {
		return err
	}
	if err := d.writeCRC(cfg.CRCOn); err != nil {
		return err
	}
	if err := d.writeHeaderMode(cfg.ImplicitHeader); err != nil {
		return err
	}
	if err := d.writePreamble(cfg.PreambleLen); err != nil {
		return err
	}
	if err := d.io.WriteReg(regSyncWord, cfg.SyncWord); err != nil {
		return errkind.Wrap(errkind.IoError, "begin: sync word", err)
	}
	return nil
}

func (d *Driver) writeFrf(freqHz uint32) error {
	frf := frfFromFreq(freqHz)
	if err := d.io.WriteReg(regFrfMSB, byte(frf>>16)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_frequency: msb", err)
	}
	if err := d.io.WriteReg(regFrfMid, byte(frf>>8)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_frequency: mid", err)
	}
	if err := d.io.WriteReg(regFrfLSB, byte(frf)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_frequency: lsb", err)
	}
	return nil
}

func (d *Driver) writeSpreadingFactor(sf uint8) error {
	cfg, err := d.io.ReadReg(regModemConf2)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "set_spreading_factor: read", err)
	}
	if err := d.io.WriteReg(regModemConf2, (cfg&0x0F)|(sf<<4)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_spreading_factor: write", err)
	}
	detectOpt, detectThr := byte(0xC3), byte(0x0A)
	if sf == 6 {
		detectOpt, detectThr = 0xC5, 0x0C
	}
	if err := d.io.WriteReg(regDetectOpt, detectOpt); err != nil {
		return errkind.Wrap(errkind.IoError, "set_spreading_factor: detect_opt", err)
	}
	if err := d.io.WriteReg(regDetectThr, detectThr); err != nil {
		return errkind.Wrap(errkind.IoError, "set_spreading_factor: detect_thr", err)
	}
	return nil
}

func (d *Driver) writeBandwidth(hz uint32) error {
	idx, ok := bandwidthIndex(hz)
	if !ok {
		return errkind.New(errkind.InvalidParam, "set_bandwidth", fmt.Sprintf("unsupported bandwidth %dHz", hz))
	}
	cfg, err := d.io.ReadReg(regModemConf1)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "set_bandwidth: read", err)
	}
	if err := d.io.WriteReg(regModemConf1, (cfg&0x0F)|byte(idx<<4)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_bandwidth: write", err)
	}
	return nil
}

func (d *Driver) writeCodingRate(cr uint8) error {
	if cr < 5 || cr > 8 {
		return errkind.New(errkind.InvalidParam, "set_coding_rate", fmt.Sprintf("coding rate %d out of range", cr))
	}
	cfg, err := d.io.ReadReg(regModemConf1)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "set_coding_rate: read", err)
	}
	if err := d.io.WriteReg(regModemConf1, (cfg&0xF1)|((cr-4)<<1)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_coding_rate: write", err)
	}
	return nil
}

// writeTxPower follows spec.md §4.2's PA-DAC/OCP/PA-config table: pwr<=17
// uses the PA_BOOST output with PA-DAC 0x84 and 100mA OCP; pwr>17 enables
// the +20dBm PA-DAC (0x87) and 240mA OCP.
func (d *Driver) writeTxPower(pwr uint8) error {
	if pwr < 2 || pwr > 20 {
		return errkind.New(errkind.InvalidParam, "set_tx_power", fmt.Sprintf("tx power %ddBm out of range", pwr))
	}
	var padac, ocp, paConfig byte
	if pwr <= 17 {
		padac, ocp, paConfig = 0x84, 0x2B, 0x80|(pwr-2)
	} else {
		padac, ocp, paConfig = 0x87, 0x3F, 0x80|(pwr-5)
	}
	if err := d.io.WriteReg(regPADac, padac); err != nil {
		return errkind.Wrap(errkind.IoError, "set_tx_power: padac", err)
	}
	if err := d.io.WriteReg(regOCP, ocp); err != nil {
		return errkind.Wrap(errkind.IoError, "set_tx_power: ocp", err)
	}
	if err := d.io.WriteReg(regPAConfig, paConfig); err != nil {
		return errkind.Wrap(errkind.IoError, "set_tx_power: paconfig", err)
	}
	return nil
}

func (d *Driver) writeCRC(on bool) error {
	cfg, err := d.io.ReadReg(regModemConf2)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "set_crc: read", err)
	}
	if on {
		cfg |= 0x04
	} else {
		cfg &^= 0x04
	}
	if err := d.io.WriteReg(regModemConf2, cfg); err != nil {
		return errkind.Wrap(errkind.IoError, "set_crc: write", err)
	}
	return nil
}

func (d *Driver) writeHeaderMode(implicit bool) error {
	cfg, err := d.io.ReadReg(regModemConf1)
	if err != nil {
		return errkind.Wrap(errkind.IoError, "set_header_mode: read", err)
	}
	if implicit {
		cfg |= 0x01
	} else {
		cfg &^= 0x01
	}
	if err := d.io.WriteReg(regModemConf1, cfg); err != nil {
		return errkind.Wrap(errkind.IoError, "set_header_mode: write", err)
	}
	return nil
}

func (d *Driver) writePreamble(length uint16) error {
	if err := d.io.WriteReg(regPreambleMSB, byte(length>>8)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_preamble: msb", err)
	}
	if err := d.io.WriteReg(regPreambleLSB, byte(length)); err != nil {
		return errkind.Wrap(errkind.IoError, "set_preamble: lsb", err)
	}
	return nil
}

// setMode transitions the chip to the requested mode, mapping DIO0 to the
// interrupt source that mode cares about: TxDone in Tx, RxDone in either
// receive mode, nothing otherwise (spec.md §4.2's "DIO0 dispatch state
// machine" and the teacher's setMode).
func (d *Driver) setMode(m mode) error {
	var dioMapping byte
	switch m {
	case modeTx:
		dioMapping = 0x40
	case modeRxContinuous, modeRxSingle:
		dioMapping = 0x00
	default:
		dioMapping = 0xC0
	}
	if err := d.io.WriteReg(regDIOMapping1, dioMapping); err != nil {
		return errkind.Wrap(errkind.IoError, "set_mode: dio_mapping", err)
	}
	if err := d.io.WriteReg(regOpMode, opmodeLoRaBit|m.opmode()); err != nil {
		return errkind.Wrap(errkind.IoError, "set_mode: opmode", err)
	}
	d.curMode = m
	d.rxArmed = m == modeRxContinuous || m == modeRxSingle
	return nil
}

// watchDIO0 is a small reader goroutine that turns GPIO edge waits into
// messages on the driver's actor mailbox, per spec.md §9's "Interrupt
// plumbing": the ISR-like WaitForEdge call never runs register reads
// itself, it only wakes up run() to do them serialized with everything
// else.
func (d *Driver) watchDIO0() {
	defer close(d.readerDone)
	for {
		if d.ln.WaitDIO0(time.Second) {
			select {
			case d.edgeCh <- struct{}{}:
			default:
			}
		}
		select {
		case <-d.stopReader:
			return
		default:
		}
	}
}

// run is the driver's actor loop: the only goroutine that ever touches
// chip state, subscriber map, or issues register transfers.
func (d *Driver) run() {
	if err := thread.Realtime(); err != nil {
		d.log.WithError(err).Warn("could not elevate actor thread to realtime priority")
	}

	var pollTicker *time.Ticker
	var txDeadline <-chan time.Time
	var pollChan <-chan time.Time

	stopTx := func() {
		if pollTicker != nil {
			pollTicker.Stop()
			pollTicker = nil
			pollChan = nil
		}
		txDeadline = nil
		d.pendingTx = nil
	}

	for {
		select {
		case job := <-d.mbox.CallChan():
			val, err := job.Run()
			if errkind.Is(err, errkind.IoError) {
				d.markDisconnected(err)
			}
			job.Reply(val, err)

		case cast := <-d.mbox.CastChan():
			cast()

		case req := <-d.txReqs:
			if d.pendingTx != nil {
				req.reply <- txResult{outcome: iface.TxErr, err: errkind.New(errkind.ResourceBusy, "transmit", "tx already in flight")}
				continue
			}
			if err := d.startTx(req.payload); err != nil {
				if errkind.Is(err, errkind.IoError) {
					d.markDisconnected(err)
				}
				req.reply <- txResult{outcome: iface.TxErr, err: err}
				continue
			}
			d.pendingTx = &req
			txDeadline = time.After(txTimeout)
			pollTicker = time.NewTicker(txPollInterval)
			pollChan = pollTicker.C

		case <-d.edgeCh:
			d.handleEdge(stopTx)

		case <-pollChan:
			d.handleEdge(stopTx) // a poll tick re-reads IRQ flags exactly as an edge would

		case <-txDeadline:
			if d.pendingTx != nil {
				d.pendingTx.reply <- txResult{outcome: iface.TxTimeout, err: errkind.New(errkind.Timeout, "transmit", "no TxDone within 5s")}
				stopTx()
			}

		case <-d.mbox.Done():
			close(d.stopReader)
			return
		}
	}
}

// handleEdge reads the IRQ register once and dispatches on the bits
// observed, not on the mode alone, per spec.md §4.2: "edges can race mode
// transitions."
func (d *Driver) handleEdge(stopTx func()) {
	flags, err := d.io.ReadReg(regIRQFlags)
	if err != nil {
		d.markDisconnected(err)
		if d.pendingTx != nil {
			d.pendingTx.reply <- txResult{outcome: iface.TxErr, err: errkind.Wrap(errkind.IoError, "transmit", err)}
			stopTx()
		}
		return
	}

	switch {
	case flags&irqTxDone != 0 && d.curMode == modeTx:
		d.io.WriteReg(regIRQFlags, irqTxDone)
		d.setMode(modeStandby)
		if d.pendingTx != nil {
			d.pendingTx.reply <- txResult{outcome: iface.TxOk}
			stopTx()
		}
		d.publish(iface.Event{Kind: iface.EventTxDone, Outcome: iface.TxOk})

	case flags&irqRxDone != 0 && (d.curMode == modeRxContinuous || d.curMode == modeRxSingle):
		d.handleRxDone(flags)

	default:
		if flags != 0 {
			d.io.WriteReg(regIRQFlags, irqAllFlags) // spurious: clear without side effects
		}
	}
}

// handleRxDone implements spec.md §4.2's receive path: CRC errors drop the
// frame silently, otherwise the FIFO is read one byte at a time and the
// frame is published to subscribers.
func (d *Driver) handleRxDone(flags byte) {
	if flags&irqPayloadCrc != 0 {
		d.io.WriteReg(regIRQFlags, irqRxDone|irqPayloadCrc)
		d.log.Debug("rx: crc error, dropping frame")
		return
	}

	nBytes, err := d.io.ReadReg(regRxNbBytes)
	if err != nil {
		d.markDisconnected(err)
		return
	}
	ptr, err := d.io.ReadReg(regFIFORXCurr)
	if err != nil {
		d.markDisconnected(err)
		return
	}
	if err := d.io.WriteReg(regFIFOPtr, ptr); err != nil {
		d.markDisconnected(err)
		return
	}
	payload, err := d.io.ReadBurst(regFIFO, int(nBytes))
	if err != nil {
		d.markDisconnected(err)
		return
	}

	pktRSSIRaw, _ := d.io.ReadReg(regPktRSSI)
	pktSNRRaw, _ := d.io.ReadReg(regPktSNR)
	rssi := int16(int(pktRSSIRaw) - 157)
	var snr float32
	if pktSNRRaw > 127 {
		snr = float32(int(pktSNRRaw)-256) / 4
	} else {
		snr = float32(pktSNRRaw) / 4
	}

	d.io.WriteReg(regIRQFlags, irqRxDone)

	frame := iface.RxFrame{Bytes: payload, RSSIDbm: &rssi, SNRDb: &snr}
	d.log.WithFields(logrus.Fields{"bytes": len(payload), "rssi_dbm": rssi, "snr_db": snr}).Debug("rx: frame")
	d.publish(iface.Event{Kind: iface.EventRx, Frame: frame})
}

func (d *Driver) publish(ev iface.Event) {
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (d *Driver) markDisconnected(cause error) {
	d.connected = false
	d.log.WithError(cause).Error("io error, marking disconnected")
}

// startTx is the non-blocking half of Transmit: it loads the FIFO and
// flips to Tx mode; completion is observed asynchronously by run().
func (d *Driver) startTx(payload []byte) error {
	if len(payload) < 1 || len(payload) > 255 {
		return errkind.New(errkind.InvalidParam, "transmit", fmt.Sprintf("payload length %d not in [1,255]", len(payload)))
	}
	if !d.connected {
		return errkind.New(errkind.NotConnected, "transmit", "driver not connected")
	}
	if err := d.setMode(modeStandby); err != nil {
		return err
	}
	if err := d.io.WriteReg(regFIFOPtr, 0x00); err != nil {
		return errkind.Wrap(errkind.IoError, "transmit: fifo ptr", err)
	}
	if err := d.io.WriteBurst(regFIFO, payload); err != nil {
		return errkind.Wrap(errkind.IoError, "transmit: fifo write", err)
	}
	if err := d.io.WriteReg(regPayloadLen, byte(len(payload))); err != nil {
		return errkind.Wrap(errkind.IoError, "transmit: payload length", err)
	}
	if err := d.io.WriteReg(regIRQFlags, irqAllFlags); err != nil {
		return errkind.Wrap(errkind.IoError, "transmit: clear irq", err)
	}
	return d.setMode(modeTx)
}

// --- public Capability surface (iface.Capability) ---

// Connect is a no-op once Begin has already established the link; it
// exists to satisfy iface.Capability symmetrically with rn2903.
func (d *Driver) Connect(ctx context.Context) error {
	if d.Connected() {
		return nil
	}
	return errkind.New(errkind.NotConnected, "connect", "call Begin to establish the link")
}

// Disconnect tears down the actor loop and DIO0 reader. The caller is
// responsible for closing the underlying SPI/GPIO handles.
func (d *Driver) Disconnect() error {
	d.mbox.Call(context.Background(), func() (interface{}, error) {
		d.connected = false
		return nil, nil
	})
	d.mbox.Close()
	return nil
}

// Transmit sends payload and blocks the caller until TxDone, timeout, or
// ctx is canceled, per spec.md §4.2.
func (d *Driver) Transmit(ctx context.Context, payload []byte) (iface.TxOutcome, error) {
	reply := make(chan txResult, 1)
	select {
	case d.txReqs <- txRequest{payload: payload, reply: reply}:
	case <-ctx.Done():
		return iface.TxErr, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.outcome, r.err
	case <-ctx.Done():
		return iface.TxErr, ctx.Err()
	}
}

// ReceiveMode arms continuous or single receive. timeoutMs == 0 means
// continuous, per spec.md §4.2.
func (d *Driver) ReceiveMode(ctx context.Context, timeoutMs int) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.io.WriteReg(regFIFOPtr, 0x00); err != nil {
			return nil, errkind.Wrap(errkind.IoError, "receive_mode: fifo ptr", err)
		}
		if err := d.io.WriteReg(regIRQFlags, irqAllFlags); err != nil {
			return nil, errkind.Wrap(errkind.IoError, "receive_mode: clear irq", err)
		}
		m := modeRxContinuous
		if timeoutMs != 0 {
			m = modeRxSingle
		}
		return nil, d.setMode(m)
	})
	return err
}

// Standby puts the radio in Standby mode.
func (d *Driver) Standby(ctx context.Context) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) { return nil, d.setMode(modeStandby) })
	return err
}

// Sleep puts the radio in Sleep mode.
func (d *Driver) Sleep(ctx context.Context) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) { return nil, d.setMode(modeSleep) })
	return err
}

// HardwareReset pulses the reset line and re-runs the init sequence at the
// last configured frequency, all on the actor goroutine so it never races
// run()'s own register accesses.
func (d *Driver) HardwareReset(ctx context.Context) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		return nil, d.doBegin(d.config.FrequencyHz)
	})
	return err
}

// SetFrequency reprograms the center frequency, standby-wrapped.
func (d *Driver) SetFrequency(ctx context.Context, freqHz uint32) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.writeFrf(freqHz); err != nil {
			return nil, err
		}
		d.config.FrequencyHz = freqHz
		return nil, d.setMode(modeStandby)
	})
	return err
}

// SetSpreadingFactor sets SF 6..12, enforcing SF6's implicit-header
// requirement (spec.md §3 invariant).
func (d *Driver) SetSpreadingFactor(ctx context.Context, sf uint8) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if sf < 6 || sf > 12 {
			return nil, errkind.New(errkind.InvalidParam, "set_spreading_factor", "sf out of range [6,12]")
		}
		if sf == 6 && !d.config.ImplicitHeader {
			return nil, errkind.New(errkind.InvalidParam, "set_spreading_factor", "sf6 requires implicit header mode")
		}
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.writeSpreadingFactor(sf); err != nil {
			return nil, err
		}
		d.config.SpreadingFactor = sf
		return nil, d.setMode(modeStandby)
	})
	return err
}

// SetBandwidth sets one of the ten supported bandwidths.
func (d *Driver) SetBandwidth(ctx context.Context, hz uint32) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.writeBandwidth(hz); err != nil {
			return nil, err
		}
		d.config.BandwidthHz = hz
		return nil, d.setMode(modeStandby)
	})
	return err
}

// SetCodingRate sets coding rate 5..8 (meaning 4/5..4/8).
func (d *Driver) SetCodingRate(ctx context.Context, cr uint8) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.writeCodingRate(cr); err != nil {
			return nil, err
		}
		d.config.CodingRate = cr
		return nil, d.setMode(modeStandby)
	})
	return err
}

// SetTxPower sets output power 2..20dBm.
func (d *Driver) SetTxPower(ctx context.Context, dbm uint8) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.writeTxPower(dbm); err != nil {
			return nil, err
		}
		d.config.TxPowerDbm = dbm
		return nil, d.setMode(modeStandby)
	})
	return err
}

// SetSyncWord sets the 1-byte LoRa sync word.
func (d *Driver) SetSyncWord(ctx context.Context, word uint8) error {
	_, err := d.mbox.Call(ctx, func() (interface{}, error) {
		if err := d.setMode(modeStandby); err != nil {
			return nil, err
		}
		if err := d.io.WriteReg(regSyncWord, word); err != nil {
			return nil, errkind.Wrap(errkind.IoError, "set_sync_word", err)
		}
		d.config.SyncWord = word
		return nil, d.setMode(modeStandby)
	})
	return err
}

// GetRSSI reads the real-time (not last-packet) RSSI register.
func (d *Driver) GetRSSI(ctx context.Context) (int16, error) {
	val, err := d.mbox.Call(ctx, func() (interface{}, error) {
		raw, err := d.io.ReadReg(regRSSIValue)
		if err != nil {
			return int16(0), errkind.Wrap(errkind.IoError, "get_rssi", err)
		}
		return int16(int(raw) - 157), nil
	})
	if err != nil {
		return 0, err
	}
	return val.(int16), nil
}

// GetVersion reads back the chip version register (expected 0x12).
func (d *Driver) GetVersion(ctx context.Context) (byte, error) {
	val, err := d.mbox.Call(ctx, func() (interface{}, error) {
		v, err := d.io.ReadReg(regVersion)
		if err != nil {
			return v, errkind.Wrap(errkind.IoError, "get_version", err)
		}
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(byte), nil
}

// Subscribe registers ch to receive RX and TX-completion events.
// Subscribe/Unsubscribe never fail, per spec.md §4.2's failure model.
func (d *Driver) Subscribe(id iface.SubscriberID, ch chan<- iface.Event) {
	d.mbox.Cast(func() { d.subs[id] = ch })
}

// Unsubscribe removes a subscriber.
func (d *Driver) Unsubscribe(id iface.SubscriberID) {
	d.mbox.Cast(func() { delete(d.subs, id) })
}

// GetRadioSettings returns a snapshot of the current parameters. d.config is
// actor-owned, so the read is routed through d.mbox like every other
// command instead of touching it from the caller's goroutine.
func (d *Driver) GetRadioSettings() iface.Settings {
	val, err := d.mbox.Call(context.Background(), func() (interface{}, error) {
		return iface.Settings{
			FrequencyHz:     d.config.FrequencyHz,
			SpreadingFactor: d.config.SpreadingFactor,
			BandwidthHz:     d.config.BandwidthHz,
			CodingRate:      d.config.CodingRate,
			TxPowerDbm:      d.config.TxPowerDbm,
			SyncWord:        d.config.SyncWord,
		}, nil
	})
	if err != nil {
		return iface.Settings{}
	}
	return val.(iface.Settings)
}

// Connected reports whether the last init sequence succeeded and no
// subsequent IO error has marked the link down. Routed through d.mbox for
// the same reason as GetRadioSettings.
func (d *Driver) Connected() bool {
	val, err := d.mbox.Call(context.Background(), func() (interface{}, error) {
		return d.connected, nil
	})
	if err != nil {
		return false
	}
	return val.(bool)
}

var _ iface.Capability = (*Driver)(nil)
