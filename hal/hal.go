// Package hal is the hardware-access layer the SX1276 driver builds on: an
// SPI register transport with a manually-driven chip-select line, and the
// reset/DIO0 GPIO lines the driver needs to bring the radio up and learn
// about RX/TX completion.
//
// It plays the role the teacher's shim.go played for embd (a small
// capability interface so the driver above doesn't care which library
// backs it), rebased onto periph.io/x/conn/v3 the way the rest of the
// example pack (netleapio-zappy-controller, hatstand-periph) already has.
package hal

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Level mirrors periph's gpio.Level so callers of this package don't need
// to import periph directly.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Lines groups the three GPIO lines the SX1276 driver drives or watches:
// reset (output), chip-select (output), and DIO0 (input, rising-edge).
type Lines struct {
	Reset gpio.PinOut
	CS    gpio.PinOut
	DIO0  gpio.PinIn
}

// OpenLines configures the three lines per spec: reset low, CS high, DIO0
// as a rising-edge interrupt input. Any failure closes nothing itself —
// periph pins aren't separately closeable — but the caller (sx1276.Driver)
// is responsible for not touching a Lines value construction failed on.
func OpenLines(reset, cs, dio0 gpio.PinIO) (*Lines, error) {
	if err := reset.Out(gpio.Low); err != nil {
		return nil, errors.Wrap(err, "hal: configure reset pin")
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, errors.Wrap(err, "hal: configure cs pin")
	}
	if err := dio0.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, errors.Wrap(err, "hal: configure dio0 pin")
	}
	return &Lines{Reset: reset, CS: cs, DIO0: dio0}, nil
}

// PulseReset drives reset low for low, then high for high — the SX1276's
// documented power-on reset sequence (10ms/10ms per spec.md §4.2 step 2).
func (l *Lines) PulseReset(low, high time.Duration) error {
	if err := l.Reset.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "hal: reset low")
	}
	time.Sleep(low)
	if err := l.Reset.Out(gpio.High); err != nil {
		return errors.Wrap(err, "hal: reset high")
	}
	time.Sleep(high)
	return nil
}

// WaitDIO0 blocks until DIO0 rises or timeout elapses, returning whether an
// edge was observed. A reader goroutine (see sx1276.Driver.watchDIO0) turns
// this into messages delivered onto the driver's actor mailbox, so that
// register reads triggered by the edge are serialized with command
// processing rather than run from an ISR-like callback.
func (l *Lines) WaitDIO0(timeout time.Duration) bool {
	return l.DIO0.WaitForEdge(timeout)
}

// RegisterIO is the manual-chip-select SPI register transport described in
// spec.md §4.1: each transfer drives CS low, clocks two bytes, and drives
// CS high, rather than delegating chip-select to the SPI controller's own
// CE0/CE1 lines. This is adapted from the teacher's spimux.Conn, which
// drives a GPIO select line around every transfer for the same reason
// (cheap boards without enough hardware CS lines); here the GPIO always
// selects the one device instead of choosing between two.
type RegisterIO struct {
	conn spi.Conn
	cs   gpio.PinOut
}

// NewRegisterIO builds a RegisterIO over an already-configured SPI
// connection and a chip-select GPIO line.
func NewRegisterIO(conn spi.Conn, cs gpio.PinOut) *RegisterIO {
	return &RegisterIO{conn: conn, cs: cs}
}

// ReadReg reads one 8-bit register. addr is masked to 7 bits (MSB clear
// marks a read on the SX1276 bus).
func (r *RegisterIO) ReadReg(addr byte) (byte, error) {
	w := [2]byte{addr &^ 0x80, 0x00}
	var out [2]byte
	if err := r.transfer(w[:], out[:]); err != nil {
		return 0, err
	}
	return out[1], nil
}

// WriteReg writes one 8-bit register. addr is masked with the write bit
// (MSB set).
func (r *RegisterIO) WriteReg(addr, val byte) error {
	w := [2]byte{addr | 0x80, val}
	var out [2]byte
	return r.transfer(w[:], out[:])
}

// WriteBurst writes data into the same register address repeatedly without
// auto-incrementing — used for streaming a payload into the SX1276's FIFO
// register, which spec.md §4.2 requires one write per byte for (the burst
// safety of the chip is untested, see spec.md §9 Open Questions).
func (r *RegisterIO) WriteBurst(addr byte, data []byte) error {
	for _, b := range data {
		if err := r.WriteReg(addr, b); err != nil {
			return err
		}
	}
	return nil
}

// ReadBurst reads n bytes from the same register address repeatedly,
// one SPI transfer per byte, matching the teacher's byte-at-a-time FIFO
// read and spec.md §9's note that burst reads are unverified on this chip.
func (r *RegisterIO) ReadBurst(addr byte, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := r.ReadReg(addr)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Hardware bundles the opened SPI port, register transport, and GPIO lines
// produced by OpenHardware. Close releases the SPI port handle; the GPIO
// lines registered via periph's gpioreg have no separate close.
type Hardware struct {
	RegIO *RegisterIO
	Lines *Lines

	port spi.PortCloser
}

// Close releases the underlying SPI port.
func (h *Hardware) Close() error {
	if h.port == nil {
		return nil
	}
	return errors.Wrap(h.port.Close(), "hal: close spi port")
}

// OpenHardware performs spec.md §4.2 step 1: open the SPI bus, the reset
// GPIO (output, initially low), the chip-select GPIO (output, initially
// high), and the DIO0 GPIO (input, rising-edge interrupt). Any failure
// closes whatever was already opened, in reverse order, before returning.
func OpenHardware(spiBus string, speedHz int, resetPin, csPin, dio0Pin string) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "hal: host.Init")
	}

	port, err := spireg.Open(spiBus)
	if err != nil {
		return nil, errors.Wrapf(err, "hal: open spi bus %q", spiBus)
	}
	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, errors.Wrap(err, "hal: spi connect")
	}

	resetLine := gpioreg.ByName(resetPin)
	if resetLine == nil {
		port.Close()
		return nil, errors.Errorf("hal: reset pin %q not found", resetPin)
	}
	csLine := gpioreg.ByName(csPin)
	if csLine == nil {
		port.Close()
		return nil, errors.Errorf("hal: cs pin %q not found", csPin)
	}
	dio0Line := gpioreg.ByName(dio0Pin)
	if dio0Line == nil {
		port.Close()
		return nil, errors.Errorf("hal: dio0 pin %q not found", dio0Pin)
	}

	lines, err := OpenLines(resetLine, csLine, dio0Line)
	if err != nil {
		port.Close()
		return nil, err
	}

	return &Hardware{
		RegIO: NewRegisterIO(conn, lines.CS),
		Lines: lines,
		port:  port,
	}, nil
}

// transfer performs exactly one CS-low → SPI transfer → CS-high trio.
func (r *RegisterIO) transfer(w, out []byte) error {
	if err := r.cs.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "hal: cs low")
	}
	err := r.conn.Tx(w, out)
	// Always raise CS even on transfer error, so the bus isn't left
	// selected for whatever comes next.
	if csErr := r.cs.Out(gpio.High); csErr != nil && err == nil {
		err = csErr
	}
	if err != nil {
		return errors.Wrap(err, "hal: spi transfer")
	}
	return nil
}
