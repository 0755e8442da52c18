package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, buf *bytes.Buffer, n int) []record {
	t.Helper()
	var recs []record
	require.Eventually(t, func() bool {
		scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
		recs = nil
		for scanner.Scan() {
			var r record
			if err := json.Unmarshal(scanner.Bytes(), &r); err == nil {
				recs = append(recs, r)
			}
		}
		return len(recs) >= n
	}, time.Second, 5*time.Millisecond)
	return recs
}

func TestJSONLSinkWritesTXAndRXRecords(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf, nil)

	rssi := int16(-42)
	snr := float32(5.5)
	sink.TX([]byte("hi"), "6869")
	sink.RX([]byte("HI"), "4849", &rssi, &snr)
	sink.Event("connected")

	recs := readRecords(t, &buf, 3)
	require.Len(t, recs, 3)

	assert.Equal(t, "tx", recs[0].Kind)
	assert.Equal(t, "6869", recs[0].Hex)
	assert.Equal(t, 2, recs[0].Bytes)

	assert.Equal(t, "rx", recs[1].Kind)
	require.NotNil(t, recs[1].RSSIDbm)
	assert.EqualValues(t, -42, *recs[1].RSSIDbm)

	assert.Equal(t, "event", recs[2].Kind)
	assert.Equal(t, "connected", recs[2].Tag)
}

func TestNopSinkDiscardsSilently(t *testing.T) {
	var s Sink = NopSink{}
	s.TX([]byte("x"), "78")
	s.RX([]byte("y"), "79", nil, nil)
	s.Event("noop")
}
