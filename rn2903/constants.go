package rn2903

import "time"

// baudRate is the RN2903's fixed UART rate: 57600 8N1, no flow control,
// per spec.md §4.3.
const baudRate = 57600

// lineSeparator terminates every command sent to the module.
const lineSeparator = "\r\n"

// wakeupAttempts/wakeupRetryMin/wakeupRetryMax bound the "sys get ver"
// wake-up handshake: flush, three empty CRLFs, flush, then up to three
// attempts at 100-200ms apart until a line starting with "RN" is seen.
const (
	wakeupAttempts  = 3
	wakeupRetryMin  = 100 * time.Millisecond
	wakeupRetryMax  = 200 * time.Millisecond
	versionLinePfx  = "RN"
	invalidParamAck = "invalid_param"
)

// defaultCommandTimeout bounds send_command when the caller doesn't
// supply one explicitly (e.g. the fire-and-forget config helpers).
const defaultCommandTimeout = 3 * time.Second

// txTimeout bounds how long Transmit waits for the asynchronous
// radio_tx_ok/radio_err notification after the module acks "radio tx",
// matching the SX1276 backend's 5s budget so the facade above doesn't see
// backend-dependent timeout behaviour.
const txTimeout = 5 * time.Second
