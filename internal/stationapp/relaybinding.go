package stationapp

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/ax25"
	"github.com/doismellburning/htstation/internal/ax25session"
	"github.com/doismellburning/htstation/internal/winlink/relay"
)

// RelayBinding multiplexes WinLink CMS relay sessions (§4.6 C12) over
// every concurrent connection-oriented session bound to its SSID: one
// ax25session.Session paired with one relay.Relay per remote callsign,
// opened on connect and torn down on disconnect. It satisfies
// router.Server.
type RelayBinding struct {
	relayCfg  relay.Config
	relayLog  *relay.Log
	local     ax25.Address
	channelID string
	sender    ax25session.FrameSender
	log       *log.Logger

	mu       sync.Mutex
	sessions map[uint8]map[string]*ax25session.Session
	relays   map[uint8]map[string]*relay.Relay
}

// NewRelayBinding builds a binding dialing the CMS described by
// relayCfg for every inbound connect to the local station address on
// channelID, logging completed relay sessions to relayLog.
func NewRelayBinding(relayCfg relay.Config, relayLog *relay.Log, local ax25.Address, channelID string, sender ax25session.FrameSender, logger *log.Logger) *RelayBinding {
	if logger == nil {
		logger = log.Default()
	}
	return &RelayBinding{
		relayCfg:  relayCfg,
		relayLog:  relayLog,
		local:     local,
		channelID: channelID,
		sender:    sender,
		log:       logger,
		sessions:  make(map[uint8]map[string]*ax25session.Session),
		relays:    make(map[uint8]map[string]*relay.Relay),
	}
}

// HandleFrame implements router.Server.
func (b *RelayBinding) HandleFrame(f *ax25.Frame) {
	remote := f.Source().Normalize()

	b.mu.Lock()
	bySSID, ok := b.sessions[remote.SSID]
	if !ok {
		bySSID = make(map[string]*ax25session.Session)
		b.sessions[remote.SSID] = bySSID
	}
	sess, ok := bySSID[remote.Callsign]
	if !ok {
		sess = b.newSessionLocked(remote)
		bySSID[remote.Callsign] = sess
	}
	b.mu.Unlock()

	sess.Receive(f)
}

func (b *RelayBinding) newSessionLocked(remote ax25.Address) *ax25session.Session {
	var sess *ax25session.Session
	sess = ax25session.New(b.local, remote, b.channelID, b.sender, b.log, ax25session.Callbacks{
		OnStateChanged: func(s ax25session.State) {
			switch s {
			case ax25session.StateConnected:
				b.openRelay(remote, sess)
			case ax25session.StateDisconnected:
				b.closeRelay(remote)
			}
		},
		OnDataReceived: func(data []byte) {
			b.mu.Lock()
			rel := b.relayFor(remote)
			b.mu.Unlock()
			if rel != nil {
				rel.FromRadio(data)
			}
		},
		OnError: func(err error) {
			b.log.Warn("relay session error", "remote", remote.String(), "err", err)
		},
	}, false)
	return sess
}

func (b *RelayBinding) openRelay(remote ax25.Address, sess *ax25session.Session) {
	cfg := b.relayCfg
	cfg.Callsign = remote.Callsign
	rel, err := relay.New(cfg, sess, b.log, b.relayLog.Append)
	if err != nil {
		b.log.Error("relay: connect failed", "remote", remote.String(), "err", err)
		sess.Disconnect()
		return
	}

	b.mu.Lock()
	bySSID, ok := b.relays[remote.SSID]
	if !ok {
		bySSID = make(map[string]*relay.Relay)
		b.relays[remote.SSID] = bySSID
	}
	bySSID[remote.Callsign] = rel
	b.mu.Unlock()

	go rel.Run()
}

func (b *RelayBinding) relayFor(remote ax25.Address) *relay.Relay {
	if bySSID, ok := b.relays[remote.SSID]; ok {
		return bySSID[remote.Callsign]
	}
	return nil
}

func (b *RelayBinding) closeRelay(remote ax25.Address) {
	b.mu.Lock()
	rel := b.relayFor(remote)
	if bySSID, ok := b.relays[remote.SSID]; ok {
		delete(bySSID, remote.Callsign)
		if len(bySSID) == 0 {
			delete(b.relays, remote.SSID)
		}
	}
	if bySSID, ok := b.sessions[remote.SSID]; ok {
		delete(bySSID, remote.Callsign)
		if len(bySSID) == 0 {
			delete(b.sessions, remote.SSID)
		}
	}
	b.mu.Unlock()

	if rel != nil {
		rel.Close()
	}
}
