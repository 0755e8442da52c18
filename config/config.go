// Package config loads the options spec.md §6 enumerates via
// github.com/spf13/viper, following the chirpstack-network-server
// internal/config convention of a single nested Config struct populated by
// viper.SetDefault at package init plus a viper.Unmarshal at Load time.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the fully populated configuration for one responder instance.
type Config struct {
	LoraBackend string `mapstructure:"lora_backend"`

	Serial struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"serial"`

	SPI struct {
		Bus      string `mapstructure:"bus"`
		SpeedHz  int    `mapstructure:"speed_hz"`
		ResetPin string `mapstructure:"reset_pin"`
		CSPin    string `mapstructure:"cs_pin"`
		DIO0Pin  string `mapstructure:"dio0_pin"`
	} `mapstructure:"spi"`

	Radio struct {
		FrequencyHz     uint32 `mapstructure:"frequency_hz"`
		SpreadingFactor uint8  `mapstructure:"spreading_factor"`
		BandwidthHz     uint32 `mapstructure:"bandwidth_hz"`
		CodingRate      uint8  `mapstructure:"coding_rate"`
		TxPowerDbm      uint8  `mapstructure:"tx_power_dbm"`
		SyncWord        uint8  `mapstructure:"sync_word"`
	} `mapstructure:"radio"`

	Beacon struct {
		Message    string `mapstructure:"message"`
		IntervalMs int    `mapstructure:"interval_ms"`
	} `mapstructure:"beacon"`

	Echo struct {
		Prefix  string `mapstructure:"prefix"`
		DelayMs int    `mapstructure:"delay_ms"`
	} `mapstructure:"echo"`
}

func init() {
	viper.SetDefault("lora_backend", "rn2903")

	viper.SetDefault("serial.port", "/dev/ttyACM0")

	viper.SetDefault("spi.bus", "spidev0.0")
	viper.SetDefault("spi.speed_hz", 8_000_000)
	viper.SetDefault("spi.reset_pin", "17")
	viper.SetDefault("spi.cs_pin", "25")
	viper.SetDefault("spi.dio0_pin", "4")

	viper.SetDefault("radio.frequency_hz", 915_000_000)
	viper.SetDefault("radio.spreading_factor", 7)
	viper.SetDefault("radio.bandwidth_hz", 125_000)
	viper.SetDefault("radio.coding_rate", 5)
	viper.SetDefault("radio.tx_power_dbm", 14)
	viper.SetDefault("radio.sync_word", 0x34)

	viper.SetDefault("beacon.message", "BEACON")
	viper.SetDefault("beacon.interval_ms", 5000)

	viper.SetDefault("echo.prefix", "ECHO:")
	viper.SetDefault("echo.delay_ms", 150)
}

// Load reads configuration from any viper-supported source already wired up
// by the caller (config file, flags, ...), applies the LORA_BACKEND
// environment override, and returns the populated Config.
func Load() (Config, error) {
	if err := viper.BindEnv("lora_backend", "LORA_BACKEND"); err != nil {
		return Config{}, errors.Wrap(err, "config: bind LORA_BACKEND")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}
