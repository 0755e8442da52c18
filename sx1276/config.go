package sx1276

import (
	"fmt"
)

// RadioConfig is the current set of radio parameters, per spec.md §3.
type RadioConfig struct {
	FrequencyHz     uint32 // [137e6, 1020e6]
	SpreadingFactor uint8  // 6..12
	BandwidthHz     uint32 // one of the ten standard SX1276 bandwidths
	CodingRate      uint8  // 5..8, meaning 4/5..4/8
	TxPowerDbm      uint8  // 2..20
	SyncWord        uint8
	PreambleLen     uint16
	CRCOn           bool
	ImplicitHeader  bool
}

// DefaultRadioConfig matches the defaults begin() programs in spec.md §4.2
// step 9: 14dBm, SF7, 125kHz, CR 4/5, CRC on, explicit header, preamble 8,
// sync word 0x34 (public/LoRaWAN — see spec.md §9 Open Questions on why
// this is the default rather than 0x12).
func DefaultRadioConfig(freqHz uint32) RadioConfig {
	return RadioConfig{
		FrequencyHz:     freqHz,
		SpreadingFactor: 7,
		BandwidthHz:     125000,
		CodingRate:      5,
		TxPowerDbm:      14,
		SyncWord:        0x34,
		PreambleLen:     8,
		CRCOn:           true,
		ImplicitHeader:  false,
	}
}

// Validate checks the invariants spec.md §3 places on RadioConfig.
func (c RadioConfig) Validate() error {
	if c.FrequencyHz < 137_000_000 || c.FrequencyHz > 1_020_000_000 {
		return fmt.Errorf("frequency %dHz out of range [137e6, 1020e6]", c.FrequencyHz)
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		return fmt.Errorf("spreading factor %d out of range [6,12]", c.SpreadingFactor)
	}
	if _, ok := bandwidthIndex(c.BandwidthHz); !ok {
		return fmt.Errorf("bandwidth %dHz is not one of the supported values", c.BandwidthHz)
	}
	if c.CodingRate < 5 || c.CodingRate > 8 {
		return fmt.Errorf("coding rate %d out of range [5,8]", c.CodingRate)
	}
	if c.TxPowerDbm < 2 || c.TxPowerDbm > 20 {
		return fmt.Errorf("tx power %ddBm out of range [2,20]", c.TxPowerDbm)
	}
	if c.SpreadingFactor == 6 && !c.ImplicitHeader {
		return fmt.Errorf("spreading factor 6 requires implicit header mode")
	}
	return nil
}

// mode is the chip's current operating mode (spec.md §3 RadioMode).
type mode int

const (
	modeSleep mode = iota
	modeStandby
	modeTx
	modeRxContinuous
	modeRxSingle
)

func (m mode) opmode() byte {
	switch m {
	case modeSleep:
		return opmodeSleep
	case modeStandby:
		return opmodeStandby
	case modeTx:
		return opmodeTx
	case modeRxContinuous:
		return opmodeRxCont
	case modeRxSingle:
		return opmodeRxSingle
	default:
		return opmodeStandby
	}
}

func (m mode) String() string {
	switch m {
	case modeSleep:
		return "sleep"
	case modeStandby:
		return "standby"
	case modeTx:
		return "tx"
	case modeRxContinuous:
		return "rx_continuous"
	case modeRxSingle:
		return "rx_single"
	default:
		return "unknown"
	}
}
