// Command responder wires configuration, a chosen radio backend, the
// facade, and the beacon/echo actors together and runs until a signal
// arrives. Argument parsing is deliberately the teacher's own flag-based
// style, not cobra: CLI bootstrapping is an external collaborator per
// spec.md, so only a minimal config-file/verbosity surface lives here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tve-iot/lora-responder/beacon"
	"github.com/tve-iot/lora-responder/config"
	"github.com/tve-iot/lora-responder/echo"
	"github.com/tve-iot/lora-responder/eventlog"
	"github.com/tve-iot/lora-responder/hal"
	"github.com/tve-iot/lora-responder/iface"
	"github.com/tve-iot/lora-responder/radio"
	"github.com/tve-iot/lora-responder/rn2903"
	"github.com/tve-iot/lora-responder/sx1276"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "path to a config file (any format viper supports)")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	eventLogPath := flag.String("event-log", "", "path to a JSONL event log file (empty disables it)")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %s\n", *logLevel, err)
		return 1
	}
	logrus.SetLevel(level)
	log := logrus.NewEntry(logrus.StandardLogger())

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).Error("failed to read config file")
			return 1
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}

	var sink eventlog.Sink = eventlog.NopSink{}
	if *eventLogPath != "" {
		f, err := os.OpenFile(*eventLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.WithError(err).Error("failed to open event log")
			return 1
		}
		defer f.Close()
		sink = eventlog.NewJSONLSink(f, log)
	}

	backend, closeBackend, err := buildBackend(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize radio backend")
		return 1
	}
	defer closeBackend()

	facade := radio.New(backend, log)
	if err := facade.Connect(context.Background()); err != nil {
		log.WithError(err).Error("failed to connect radio")
		return 1
	}
	defer facade.Disconnect()

	events := make(chan iface.Event, 32)
	facade.Subscribe("cmd-responder-log", events)
	go logEvents(events, sink)

	b := beacon.New(facade, log)
	if err := b.Start(beacon.Options{
		Message:    []byte(cfg.Beacon.Message),
		IntervalMs: cfg.Beacon.IntervalMs,
	}); err != nil {
		log.WithError(err).Error("failed to start beacon")
		return 1
	}
	defer b.Stop()

	e := echo.New(facade, log)
	e.Start(echo.Options{
		Prefix:      []byte(cfg.Echo.Prefix),
		EchoDelayMs: cfg.Echo.DelayMs,
	})
	defer e.Stop()

	log.WithFields(logrus.Fields{
		"backend":   cfg.LoraBackend,
		"frequency": cfg.Radio.FrequencyHz,
	}).Info("responder running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received, shutting down")
	return 0
}

// buildBackend constructs the configured iface.Capability and a matching
// close function that releases whatever hardware handles it opened.
func buildBackend(cfg config.Config, log *logrus.Entry) (iface.Capability, func(), error) {
	switch cfg.LoraBackend {
	case "sx1276":
		hw, err := hal.OpenHardware(cfg.SPI.Bus, cfg.SPI.SpeedHz, cfg.SPI.ResetPin, cfg.SPI.CSPin, cfg.SPI.DIO0Pin)
		if err != nil {
			return nil, func() {}, err
		}
		driver := sx1276.New(hw.RegIO, hw.Lines, log)
		if err := driver.Begin(context.Background(), cfg.Radio.FrequencyHz); err != nil {
			hw.Close()
			return nil, func() {}, err
		}
		return driver, func() { hw.Close() }, nil

	case "rn2903":
		driver := rn2903.New(cfg.Serial.Port, log)
		return driver, func() {}, nil

	default:
		return nil, func() {}, fmt.Errorf("unknown lora_backend %q", cfg.LoraBackend)
	}
}

func logEvents(events <-chan iface.Event, sink eventlog.Sink) {
	for ev := range events {
		switch ev.Kind {
		case iface.EventRx:
			sink.RX(ev.Frame.Bytes, fmt.Sprintf("%x", ev.Frame.Bytes), ev.Frame.RSSIDbm, ev.Frame.SNRDb)
		case iface.EventTxDone:
			sink.Event(fmt.Sprintf("tx_%s", ev.Outcome))
		}
	}
}
