// Package iface defines the capability set spec.md §4.4 requires of both
// LoRa backends (the SX1276 chip driver and the RN2903 UART modem), and the
// event shapes they emit. It exists so the facade (package radio) can
// depend on one small interface instead of importing both backends'
// internal types, and so the two backends can share event types without an
// import cycle back through the facade — the "capability, not inheritance"
// design spec.md §9 calls for.
package iface

import (
	"context"
	"fmt"
)

// TxOutcome is the result of a transmit attempt.
type TxOutcome int

const (
	TxUnknown TxOutcome = iota
	TxOk
	TxTimeout
	TxErr
)

func (o TxOutcome) String() string {
	switch o {
	case TxOk:
		return "ok"
	case TxTimeout:
		return "timeout"
	case TxErr:
		return "err"
	default:
		return "unknown"
	}
}

// RxFrame is a received packet. RSSIDbm and SNRDb are nil when the backend
// doesn't report them (the RN2903 modem reports neither, per spec.md §9
// Open Questions — "propagate None rather than fabricating values").
type RxFrame struct {
	Bytes   []byte
	RSSIDbm *int16
	SNRDb   *float32
}

func (f RxFrame) String() string {
	rssi := "?"
	if f.RSSIDbm != nil {
		rssi = fmt.Sprintf("%d", *f.RSSIDbm)
	}
	snr := "?"
	if f.SNRDb != nil {
		snr = fmt.Sprintf("%.2f", *f.SNRDb)
	}
	return fmt.Sprintf("RxFrame{%d bytes, rssi=%sdBm, snr=%sdB}", len(f.Bytes), rssi, snr)
}

// EventKind tags an Event as either a received frame or a transmit
// completion notification.
type EventKind int

const (
	EventRx EventKind = iota
	EventTxDone
)

// Event is what Capability implementations publish to subscribers: an RX
// frame, or the outcome of a previously-submitted TX.
type Event struct {
	Kind    EventKind
	Frame   RxFrame
	Outcome TxOutcome
}

// SubscriberID names a subscriber for Subscribe/Unsubscribe.
type SubscriberID string

// Settings is the read-only snapshot of current radio parameters returned
// by GetRadioSettings, the common denominator of the two backends'
// configuration (the RN2903 doesn't expose everything the SX1276 register
// map does).
type Settings struct {
	FrequencyHz     uint32
	SpreadingFactor uint8
	BandwidthHz     uint32
	CodingRate      uint8
	TxPowerDbm      uint8
	SyncWord        uint8
}

// Capability is the uniform transmit/receive surface spec.md §4.4 requires
// of both the SX1276 driver and the RN2903 modem driver.
type Capability interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Transmit(ctx context.Context, payload []byte) (TxOutcome, error)
	ReceiveMode(ctx context.Context, timeoutMs int) error
	Subscribe(id SubscriberID, ch chan<- Event)
	Unsubscribe(id SubscriberID)
	GetRadioSettings() Settings
	Connected() bool
}
