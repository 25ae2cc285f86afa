// Command stationd is the packet-radio station core demo entrypoint:
// it loads configuration, wires the protocol components together, and
// runs the ingest pipeline until interrupted. It has no real radio
// transport of its own — §1 scopes that out as an external component —
// so it exposes the transport.Pipeline's HandleFragment as the
// integration point a transport implementation would call.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/doismellburning/htstation/internal/aprs"
	"github.com/doismellburning/htstation/internal/ax25"
	"github.com/doismellburning/htstation/internal/bbs"
	"github.com/doismellburning/htstation/internal/bbs/games"
	"github.com/doismellburning/htstation/internal/broker"
	"github.com/doismellburning/htstation/internal/dedup"
	"github.com/doismellburning/htstation/internal/logx"
	"github.com/doismellburning/htstation/internal/packetstore"
	"github.com/doismellburning/htstation/internal/registry"
	"github.com/doismellburning/htstation/internal/router"
	"github.com/doismellburning/htstation/internal/stationapp"
	"github.com/doismellburning/htstation/internal/storage"
	"github.com/doismellburning/htstation/internal/transport"
	"github.com/doismellburning/htstation/internal/winlink/relay"
)

// AuthEntry is one configured APRS peer secret (§6 "AUTH (repeatable,
// each CALL[-SSID],password)").
type AuthEntry struct {
	Callsign string `yaml:"callsign"`
	Password string `yaml:"password"`
}

// StationConfig is the configuration surface the core recognizes
// (§6 "Configuration recognized by the core").
type StationConfig struct {
	Callsign         string      `yaml:"callsign"`
	Channel          string      `yaml:"channel"`
	BBSStationID     int         `yaml:"bbsStationId"`
	EchoStationID    int         `yaml:"echoStationId"`
	WinlinkStationID int         `yaml:"winlinkStationId"`
	Auth             []AuthEntry `yaml:"auth"`
	WinlinkServer    string      `yaml:"winlinkServer"`
	WinlinkPort      int         `yaml:"winlinkPort"`
	WinlinkUseTLS    bool        `yaml:"winlinkUseTls"`
	WinlinkPassword  string      `yaml:"winlinkPassword"`
}

// noopAprsOut logs outgoing APRS UI frames instead of transmitting
// them, since this demo entrypoint has no live radio transport (§1).
type noopAprsOut struct {
	log *log.Logger
}

func (o noopAprsOut) SendUI(info string) {
	o.log.Info("outgoing UI frame", "info", info)
}

// noopFrameSender logs outbound connection-oriented frames instead of
// transmitting them, since this demo entrypoint has no live radio
// transport of its own (§1).
type noopFrameSender struct {
	log *log.Logger
}

func (s noopFrameSender) SendFrame(channelID string, f *ax25.Frame) error {
	s.log.Info("outgoing frame", "channel", channelID, "dest", f.Destination().String())
	return nil
}

func loadConfig(path string) (StationConfig, error) {
	cfg := StationConfig{Channel: "MAIN", BBSStationID: -1, EchoStationID: -1, WinlinkStationID: -1}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("stationd: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("stationd: parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	var configPath, dataDir, aprsChannel string
	pflag.StringVar(&configPath, "config", "", "path to station YAML config")
	pflag.StringVar(&dataDir, "data-dir", "./stationd-data", "directory for persisted state")
	pflag.StringVar(&aprsChannel, "aprs-channel", aprs.ChannelName, "channel name carrying APRS traffic")
	pflag.Parse()

	base := logx.NewBase(os.Stderr)
	logger := base.For("stationd")

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatal("config load failed", "err", err)
	}
	if cfg.BBSStationID < 0 && cfg.EchoStationID < 0 && cfg.WinlinkStationID < 0 {
		logger.Fatal("at least one of BBS_STATION_ID/ECHO_STATION_ID/WINLINK_STATION_ID must be enabled")
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("create data dir", "err", err)
	}

	bulletinsDB, err := storage.Open(dataDir + "/bulletins")
	if err != nil {
		logger.Fatal("open bulletins storage", "err", err)
	}
	defer bulletinsDB.Close()

	b := broker.New(base.For("broker"), dataDir+"/broker.json")
	store := packetstore.New(base.For("packetstore"), dataDir+"/packets.ptcap")
	dd := dedup.New()
	reg := registry.New()

	secrets := make(map[string]string, len(cfg.Auth))
	for _, a := range cfg.Auth {
		secrets[strings.ToUpper(strings.SplitN(a.Callsign, "-", 2)[0])] = a.Password
	}

	var bindings []router.SSIDBinding
	if cfg.BBSStationID >= 0 {
		srv := bbs.New(bbs.Config{
			LocalCallsign: fmt.Sprintf("%s-%d", cfg.Callsign, cfg.BBSStationID),
			PubFilesRoot:  dataDir + "/pubfiles",
			Games:         games.NewRegistry(games.NewGuessModule(100, 6, func() int { return rand.Intn(100) + 1 })),
		}, bulletinsDB, base.For("bbs"))
		binding := stationapp.NewBBSBinding(
			srv,
			ax25.Address{Callsign: cfg.Callsign, SSID: uint8(cfg.BBSStationID)},
			cfg.Channel,
			noopFrameSender{log: base.For("bbs-tx")},
			base.For("bbs-session"),
		)
		bindings = append(bindings, router.SSIDBinding{SSID: uint8(cfg.BBSStationID), Kind: router.KindBBS, Server: binding})
		logger.Info("BBS enabled", "ssid", cfg.BBSStationID)
	}

	if cfg.WinlinkStationID >= 0 {
		relayLog := relay.NewLog(nil, func(entries []relay.LogEntry) {
			logger.Info("relay log flush", "entries", len(entries))
		})
		binding := stationapp.NewRelayBinding(
			relay.Config{Host: cfg.WinlinkServer, Port: cfg.WinlinkPort, UseTLS: cfg.WinlinkUseTLS},
			relayLog,
			ax25.Address{Callsign: cfg.Callsign, SSID: uint8(cfg.WinlinkStationID)},
			cfg.Channel,
			noopFrameSender{log: base.For("relay-tx")},
			base.For("relay-session"),
		)
		bindings = append(bindings, router.SSIDBinding{SSID: uint8(cfg.WinlinkStationID), Kind: router.KindWinlink, Server: binding})
		logger.Info("WinLink relay enabled", "ssid", cfg.WinlinkStationID, "cms", cfg.WinlinkServer)
	}

	var aprsHandler *aprs.Handler
	if cfg.Callsign != "" {
		aprsHandler = aprs.New(aprs.Config{
			LocalCallsign: cfg.Callsign,
			Secrets:       secrets,
		}, noopAprsOut{log: base.For("aprs")}, base.For("aprs"), nil)
	}

	r := router.New(router.Config{
		LocalCallsign: cfg.Callsign,
		Bindings:      bindings,
		Registry:      reg,
		Sender:        noopFrameSender{log: base.For("router-tx")},
		AprsHandler: func(f *ax25.Frame) {
			if aprsHandler == nil || len(f.Payload) == 0 {
				return
			}
			aprsHandler.HandleInfo(f.Source().Callsign, f.Destination().Callsign, string(f.Payload))
		},
	}, base.For("router"))

	pipeline := transport.New(transport.Config{
		Dedup:           dd,
		Store:           store,
		Broker:          b,
		AprsChannelName: aprsChannel,
		Route: func(f *ax25.Frame, channelName string, isAPRSChannel bool) {
			r.Route(f, channelName, isAPRSChannel)
		},
	}, base.For("transport"))
	_ = pipeline

	logger.Info("station core initialized", "callsign", cfg.Callsign)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	b.Flush()
	store.Flush()
}
