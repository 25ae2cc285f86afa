// Package router implements the packet router and dispatch contract
// (§4.10 C14): deciding which application server handles a decoded
// frame, with the session registry (C8) arbitrating ownership.
package router

import (
	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/ax25"
	"github.com/doismellburning/htstation/internal/registry"
)

// ServerKind names an application server reachable through the router.
type ServerKind = registry.Kind

const (
	KindBBS     = registry.KindBBS
	KindEcho    = registry.KindEcho
	KindWinlink = registry.KindWinlink
)

// Server is one SSID-addressable application server.
type Server interface {
	// HandleFrame processes one frame already confirmed addressed to
	// this server.
	HandleFrame(f *ax25.Frame)
}

// SSIDBinding maps one local SSID to the server kind and handler that
// owns it.
type SSIDBinding struct {
	SSID   uint8
	Kind   ServerKind
	Server Server
}

// BusyResponder sends a DM (poll/final set) to refuse a session, the
// way the registry's rejection is signaled to the peer (§4.10
// "Servers must respond to a rejected attempt with a U-frame DM").
type BusyResponder interface {
	SendFrame(channelID string, f *ax25.Frame) error
}

// Config parameterizes a Router.
type Config struct {
	LocalCallsign string
	Bindings      []SSIDBinding
	// AprsHandler receives APRS channel frames directly, bypassing
	// SSID routing (§4.10 "APRS channel frames skip routing").
	AprsHandler func(f *ax25.Frame)
	Registry    *registry.Registry
	// Sender transmits the U-frame DM (poll/final set) a rejected
	// connection attempt must receive (§4.10, §8 Registry property).
	Sender BusyResponder
}

// Router dispatches decoded frames to exactly one destination per
// frame (§4.10 "routing decision is final per frame — no fallthrough").
type Router struct {
	cfg      Config
	log      *log.Logger
	bindings map[uint8]SSIDBinding
}

// New builds a Router from cfg.
func New(cfg Config, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	bindings := make(map[uint8]SSIDBinding, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindings[b.SSID] = b
	}
	return &Router{cfg: cfg, log: logger, bindings: bindings}
}

// Route dispatches f, returning true if it was handled by a bound
// server or the APRS handler (§4.10).
func (r *Router) Route(f *ax25.Frame, channelName string, isAPRSChannel bool) bool {
	if isAPRSChannel && r.cfg.AprsHandler != nil {
		r.cfg.AprsHandler(f)
		return true
	}

	dest := f.Destination().Normalize()
	local := ax25.Address{Callsign: r.cfg.LocalCallsign}.Normalize()
	if dest.Callsign != local.Callsign {
		return false
	}

	binding, ok := r.bindings[dest.SSID]
	if !ok {
		return false
	}

	if f.Kind == ax25.KindU && (f.UType == ax25.USABM || f.UType == ax25.USABME) && r.cfg.Registry != nil {
		if !r.cfg.Registry.CanCreateSession(f.Source().Normalize().Callsign, binding.Kind) {
			r.log.Warn("session rejected: callsign owned by another server kind", "callsign", f.Source().Callsign, "wanted", binding.Kind)
			r.sendDM(f, channelName)
			return true
		}
		r.cfg.Registry.Acquire(f.Source().Normalize().Callsign, binding.Kind)
	}

	binding.Server.HandleFrame(f)
	return true
}

// sendDM answers a rejected connection attempt with a U-frame DM,
// poll/final set, addressed back to f's source (§4.10).
func (r *Router) sendDM(f *ax25.Frame, channelName string) {
	if r.cfg.Sender == nil {
		return
	}
	dst := f.Source().Normalize()
	dst.CRBit1 = true
	src := f.Destination().Normalize()
	src.CRBit1 = false
	src.CRBit2 = f.Modulo128
	dm := &ax25.Frame{
		Addresses: []ax25.Address{dst, src},
		Command:   true,
		Modulo128: f.Modulo128,
		Kind:      ax25.KindU,
		UType:     ax25.UDM,
		PF:        true,
	}
	if err := r.cfg.Sender.SendFrame(channelName, dm); err != nil {
		r.log.Error("router: send DM failed", "callsign", f.Source().Callsign, "err", err)
	}
}
