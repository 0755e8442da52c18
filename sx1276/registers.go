// Copyright 2016 by Thorsten von Eicken, see LICENSE file
//
// Adapted from the teacher's sx1276/registers.go: the register address
// table and mode/IRQ bit constants are unchanged, but the configRegs init
// table is replaced by the bit-exact setter logic spec.md §4.2 requires
// instead of the teacher's canned Configs map of bw/sf/cr combinations.

package sx1276

const (
	regFIFO        = 0x00
	regOpMode      = 0x01
	regFrfMSB      = 0x06
	regFrfMid      = 0x07
	regFrfLSB      = 0x08
	regPAConfig    = 0x09
	regOCP         = 0x0B
	regLNA         = 0x0C
	regFIFOPtr     = 0x0D
	regFIFOTXBase  = 0x0E
	regFIFORXBase  = 0x0F
	regFIFORXCurr  = 0x10
	regIRQMask     = 0x11
	regIRQFlags    = 0x12
	regRxNbBytes   = 0x13
	regModemStat   = 0x18
	regPktSNR      = 0x19
	regPktRSSI     = 0x1A
	regRSSIValue   = 0x1B
	regModemConf1  = 0x1D
	regModemConf2  = 0x1E
	regPreambleMSB = 0x20
	regPreambleLSB = 0x21
	regPayloadLen  = 0x22
	regPayloadMax  = 0x23
	regModemConf3  = 0x26
	regDetectOpt   = 0x31
	regDetectThr   = 0x37
	regSyncWord    = 0x39
	regDIOMapping1 = 0x40
	regVersion     = 0x42
	regPADac       = 0x4D
)

// opmode values (low 3 bits of regOpMode, ORed with the LoRa-mode bit per
// spec.md §4.1: "every mode write is ORed with the LoRa-mode bit (0x80)").
const (
	opmodeSleep    = 0x00
	opmodeStandby  = 0x01
	opmodeTx       = 0x03
	opmodeRxCont   = 0x05
	opmodeRxSingle = 0x06
	opmodeLoRaBit  = 0x80
)

// IRQ flag bits (regIRQFlags / regIRQMask).
const (
	irqRxTimeout   = 1 << 7
	irqRxDone      = 1 << 6
	irqPayloadCrc  = 1 << 5
	irqValidHeader = 1 << 4
	irqTxDone      = 1 << 3
	irqAllFlags    = 0xFF
)

// chipVersion is the only value reg 0x42 is allowed to read back as; any
// other value is treated as InvalidChip (spec.md §4.2 step 3).
const chipVersion = 0x12

// fXOSC is the SX1276's crystal frequency; Frf register steps are in units
// of fXOSC / 2^19 (spec.md §4.2 step 5), i.e. about 61.035 Hz/step.
const fXOSC = 32_000_000

const frfStep = float64(fXOSC) / (1 << 19)

// bandwidths is the ordered list of supported bandwidths; its index times
// 0x10 is the value written into the modem-config-1 high nibble per
// spec.md §4.2's "BW" row.
var bandwidths = []uint32{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

func bandwidthIndex(hz uint32) (int, bool) {
	for i, b := range bandwidths {
		if b == hz {
			return i, true
		}
	}
	return 0, false
}

// frfFromFreq converts a center frequency in Hz to the 24-bit Frf value
// programmed across regFrfMSB/Mid/LSB (spec.md §4.2 step 5).
func frfFromFreq(freqHz uint32) uint32 {
	return uint32(float64(freqHz)/frfStep + 0.5)
}

// freqFromFrf is the inverse of frfFromFreq, used by tests to check the
// round-trip law in spec.md §8 ("Frf_write ∘ Frf_read reconstructs the
// programmed frequency within ±1 step").
func freqFromFrf(frf uint32) uint32 {
	return uint32(float64(frf)*frfStep + 0.5)
}
