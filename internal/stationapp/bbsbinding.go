// Package stationapp adapts the AX.25 connection-oriented session
// layer (ax25session, §4.2 C3) onto the SSID-bound application
// servers the router (§4.10 C14) dispatches to: one Session per
// remote callsign, created on first contact and torn down on
// disconnect, with its data/state events translated into the
// server's HandleConnect/HandleData/HandleDisconnect calls.
package stationapp

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/ax25"
	"github.com/doismellburning/htstation/internal/ax25session"
	"github.com/doismellburning/htstation/internal/bbs"
)

// BBSBinding multiplexes one *bbs.Server across every concurrent
// connection-oriented session bound to its SSID. It satisfies
// router.Server.
type BBSBinding struct {
	server    *bbs.Server
	local     ax25.Address
	channelID string
	sender    ax25session.FrameSender
	log       *log.Logger

	mu       sync.Mutex
	sessions map[uint8]map[string]*ax25session.Session
}

// NewBBSBinding builds a binding serving srv for the local station
// address on channelID, transmitting outbound frames through sender.
func NewBBSBinding(srv *bbs.Server, local ax25.Address, channelID string, sender ax25session.FrameSender, logger *log.Logger) *BBSBinding {
	if logger == nil {
		logger = log.Default()
	}
	return &BBSBinding{
		server:    srv,
		local:     local,
		channelID: channelID,
		sender:    sender,
		log:       logger,
		sessions:  make(map[uint8]map[string]*ax25session.Session),
	}
}

// HandleFrame implements router.Server: it routes f to the session
// already open for its source callsign/SSID, opening one for the first
// frame of any kind from that address.
func (b *BBSBinding) HandleFrame(f *ax25.Frame) {
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

func (b *BBSBinding) newSessionLocked(remote ax25.Address) *ax25session.Session {
	var sess *ax25session.Session
	sess = ax25session.New(b.local, remote, b.channelID, b.sender, b.log, ax25session.Callbacks{
		OnStateChanged: func(s ax25session.State) {
			switch s {
			case ax25session.StateConnected:
				b.server.HandleConnect(sess, remote.String())
			case ax25session.StateDisconnected:
				b.server.HandleDisconnect(sess)
				b.forget(remote)
			}
		},
		OnDataReceived: func(data []byte) {
			b.server.HandleData(sess, data)
		},
		OnError: func(err error) {
			b.log.Warn("bbs session error", "remote", remote.String(), "err", err)
		},
	}, false)
	return sess
}

func (b *BBSBinding) forget(remote ax25.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bySSID, ok := b.sessions[remote.SSID]; ok {
		delete(bySSID, remote.Callsign)
		if len(bySSID) == 0 {
			delete(b.sessions, remote.SSID)
		}
	}
}
