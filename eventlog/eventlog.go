// Package eventlog defines the external event-sink contract of spec.md §6:
// a place the responder (cmd/responder, from the facade's RX and
// TX-completion events) reports TX/RX activity and lifecycle events to,
// without ever blocking on it. The contract is the real
// component; a JSONL file sink is supplied as the obvious default
// consumer, in the teacher's own unceremonious logging style (one line per
// record, no framework).
package eventlog

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink is the fire-and-forget collaborator spec.md §6 describes. Callers
// never block on it and never see its errors; a Sink that can't keep up is
// expected to drop records rather than apply backpressure.
type Sink interface {
	TX(payload []byte, hex string)
	RX(payload []byte, hex string, rssiDbm *int16, snrDb *float32)
	Event(tag string)
}

// record is the on-disk JSONL shape. TimestampUnixNano is taken from
// time.Now() when TX, RX, or Event is called, not when the record is
// written.
type record struct {
	TimestampUnixNano int64    `json:"ts_unix_ns"`
	Kind              string   `json:"kind"`
	Tag               string   `json:"tag,omitempty"`
	Hex               string   `json:"hex,omitempty"`
	Bytes             int      `json:"bytes,omitempty"`
	RSSIDbm           *int16   `json:"rssi_dbm,omitempty"`
	SNRDb             *float32 `json:"snr_db,omitempty"`
}

const channelDepth = 256

// JSONLSink appends newline-delimited JSON records to w. Writes happen on
// a single background goroutine fed by a buffered, drop-oldest channel, so
// TX/RX/Event never block the actor that called them.
type JSONLSink struct {
	log *logrus.Entry

	enc  *json.Encoder
	recs chan record

	mu      sync.Mutex
	dropped int
}

// NewJSONLSink starts the background writer goroutine and returns
// immediately; callers should arrange for w to be closed on shutdown
// themselves (the sink never closes it).
func NewJSONLSink(w io.Writer, log *logrus.Entry) *JSONLSink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &JSONLSink{
		log:  log.WithField("component", "eventlog"),
		enc:  json.NewEncoder(w),
		recs: make(chan record, channelDepth),
	}
	go s.run()
	return s
}

func (s *JSONLSink) run() {
	for rec := range s.recs {
		if err := s.enc.Encode(rec); err != nil {
			s.log.WithError(err).Warn("event sink write failed")
		}
	}
}

// submit enqueues rec, dropping the oldest queued record to make room
// rather than blocking the caller, per spec.md §6's fire-and-forget
// contract.
func (s *JSONLSink) submit(rec record) {
	select {
	case s.recs <- rec:
	default:
		select {
		case <-s.recs:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
		select {
		case s.recs <- rec:
		default:
		}
	}
}

// TX records a successful or attempted transmit.
func (s *JSONLSink) TX(payload []byte, hex string) {
	s.submit(record{
		TimestampUnixNano: time.Now().UnixNano(),
		Kind:              "tx",
		Hex:               hex,
		Bytes:             len(payload),
	})
}

// RX records a received frame, RSSI/SNR included when the backend reports
// them (nil for backends, like the RN2903 modem, that don't).
func (s *JSONLSink) RX(payload []byte, hex string, rssiDbm *int16, snrDb *float32) {
	s.submit(record{
		TimestampUnixNano: time.Now().UnixNano(),
		Kind:              "rx",
		Hex:               hex,
		Bytes:             len(payload),
		RSSIDbm:           rssiDbm,
		SNRDb:             snrDb,
	})
}

// Event records a bare lifecycle tag (e.g. "connected", "disconnected",
// "arm_rx_failed").
func (s *JSONLSink) Event(tag string) {
	s.submit(record{
		TimestampUnixNano: time.Now().UnixNano(),
		Kind:              "event",
		Tag:               tag,
	})
}

// Dropped returns the number of records discarded so far to keep TX/RX/Event
// non-blocking.
func (s *JSONLSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

var _ Sink = (*JSONLSink)(nil)

// NopSink discards every record; useful as a default when no event sink is
// configured.
type NopSink struct{}

func (NopSink) TX([]byte, string)                            {}
func (NopSink) RX([]byte, string, *int16, *float32) {}
func (NopSink) Event(string)                                  {}

var _ Sink = NopSink{}
