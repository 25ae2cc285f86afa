// Package transport defines the boundary contract with the external
// radio transport (§6): opaque TNC fragments in and out on named
// channels, plus the ingest pipeline that turns inbound fragments into
// routed AX.25 frames.
package transport

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/ax25"
	"github.com/doismellburning/htstation/internal/broker"
	"github.com/doismellburning/htstation/internal/dedup"
	"github.com/doismellburning/htstation/internal/packetstore"
)

// InboundFragment is one raw TNC fragment as delivered by the
// transport's inbound data event (§6 "{channel_id, channel_name,
// incoming, data}").
type InboundFragment struct {
	ChannelID   string
	ChannelName string
	Incoming    bool
	Data        []byte
}

// Sender emits outbound TNC fragments (§6 "sendTncFrame({channel_id, data})").
type Sender interface {
	SendTncFrame(channelID string, data []byte) error
}

// Pipeline wires the frame dedup (C5), packet store (C6), and router
// (C14) dispatch together over the data broker (C4), turning one
// inbound TNC fragment into a published, deduplicated, routed frame
// (§5 "single-threaded cooperative event loop").
type Pipeline struct {
	dedup   *dedup.Deduplicator
	store   *packetstore.Store
	broker  *broker.Broker
	log     *log.Logger
	decode  func([]byte) (*ax25.Frame, error)
	route   func(f *ax25.Frame, channelName string, isAPRSChannel bool)
	aprsChannelName string
	now     func() time.Time
}

// Config parameterizes a Pipeline.
type Config struct {
	Dedup           *dedup.Deduplicator
	Store           *packetstore.Store
	Broker          *broker.Broker
	AprsChannelName string
	Route           func(f *ax25.Frame, channelName string, isAPRSChannel bool)
	Now             func() time.Time
}

// New builds a Pipeline from cfg.
func New(cfg Config, logger *log.Logger) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		dedup:           cfg.Dedup,
		store:           cfg.Store,
		broker:          cfg.Broker,
		log:             logger,
		decode:          ax25.DecodeFrame,
		route:           cfg.Route,
		aprsChannelName: cfg.AprsChannelName,
		now:             cfg.Now,
	}
}

// HandleFragment is the transport's inbound data callback (§6).
func (p *Pipeline) HandleFragment(frag InboundFragment) {
	if p.store != nil {
		p.store.Add(packetstore.Record{
			Timestamp:   p.now(),
			Incoming:    frag.Incoming,
			RadioID:     frag.ChannelID,
			ChannelName: frag.ChannelName,
			Data:        frag.Data,
			Encoding:    "raw",
		})
	}

	if p.broker != nil {
		p.broker.Dispatch(0, broker.TopicDataFrame, frag, true)
	}

	if p.dedup != nil && !p.dedup.Seen(frag.Data) {
		return
	}

	if p.broker != nil {
		p.broker.Dispatch(0, broker.TopicUniqueDataFrame, frag, true)
	}

	f, err := p.decode(frag.Data)
	if err != nil {
		p.log.Warn("frame decode error", "channel", frag.ChannelID, "err", err)
		return
	}

	isAPRS := p.aprsChannelName != "" && frag.ChannelName == p.aprsChannelName
	if p.route != nil {
		p.route(f, frag.ChannelName, isAPRS)
	}
}
