// Package responder is a field-testing LoRa responder: a half-duplex
// SX1276 SPI radio driver (package sx1276) and an RN2903 UART modem
// driver (package rn2903) share a uniform capability facade (package
// radio), driving a periodic beacon transmitter (package beacon) and a
// receive-and-echo turnaround responder (package echo). See cmd/responder
// for the bootstrap binary.
package responder
