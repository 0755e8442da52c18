package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rn2903", cfg.LoraBackend)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, "spidev0.0", cfg.SPI.Bus)
	assert.Equal(t, 8_000_000, cfg.SPI.SpeedHz)
	assert.Equal(t, "17", cfg.SPI.ResetPin)
	assert.Equal(t, "25", cfg.SPI.CSPin)
	assert.Equal(t, "4", cfg.SPI.DIO0Pin)
	assert.EqualValues(t, 915_000_000, cfg.Radio.FrequencyHz)
	assert.EqualValues(t, 7, cfg.Radio.SpreadingFactor)
	assert.Equal(t, "BEACON", cfg.Beacon.Message)
	assert.Equal(t, 5000, cfg.Beacon.IntervalMs)
	assert.Equal(t, "ECHO:", cfg.Echo.Prefix)
	assert.Equal(t, 150, cfg.Echo.DelayMs)
}

func TestLoadHonorsLoraBackendEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("LORA_BACKEND", "sx1276"))
	defer os.Unsetenv("LORA_BACKEND")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sx1276", cfg.LoraBackend)
}
