package lanchat

import (
	"lanchat/internal/discovery"
	"lanchat/internal/wire"
)

// EventSink is the seam between the network core and whatever renders it.
// Implementations must be safe for concurrent calls: events are delivered
// from the receive loop, the timer goroutines, and fetch workers.
type EventSink interface {
	OnHello(msg wire.Message, sourceIP string)
	OnChat(msg wire.Message, sourceIP string)
	OnFile(msg wire.Message, sourceIP string)
	OnPeersUpdated(peers []discovery.Peer)
	OnOnlineCount(n int)
	OnAvatarUpdated(senderID, avatarSHA string)
}

type multiSink struct {
	sinks []EventSink
}

// NewMultiSink fans every event out to each registered sink.
func NewMultiSink(sinks ...EventSink) EventSink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) OnHello(msg wire.Message, sourceIP string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnHello(msg, sourceIP)
		}
	}
}

func (m *multiSink) OnChat(msg wire.Message, sourceIP string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnChat(msg, sourceIP)
		}
	}
}

func (m *multiSink) OnFile(msg wire.Message, sourceIP string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnFile(msg, sourceIP)
		}
	}
}

func (m *multiSink) OnPeersUpdated(peers []discovery.Peer) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnPeersUpdated(peers)
		}
	}
}

func (m *multiSink) OnOnlineCount(n int) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnOnlineCount(n)
		}
	}
}

func (m *multiSink) OnAvatarUpdated(senderID, avatarSHA string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.OnAvatarUpdated(senderID, avatarSHA)
		}
	}
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnHello(wire.Message, string)    {}
func (NopSink) OnChat(wire.Message, string)     {}
func (NopSink) OnFile(wire.Message, string)     {}
func (NopSink) OnPeersUpdated([]discovery.Peer) {}
func (NopSink) OnOnlineCount(int)               {}
func (NopSink) OnAvatarUpdated(string, string)  {}
