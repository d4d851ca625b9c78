package lanchat

import (
	"sync"
	"testing"

	"lanchat/internal/discovery"
	"lanchat/internal/fileserver"
	"lanchat/internal/multicast"
	"lanchat/internal/wire"
)

// fakeConn records outbound messages and lets tests inject inbound ones.
type fakeConn struct {
	mu      sync.Mutex
	handler multicast.Handler
	sent    []wire.Message
	fail    bool
	closed  bool
}

func (c *fakeConn) Start(handler multicast.Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *fakeConn) Send(msg wire.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return false
	}
	c.sent = append(c.sent, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) deliver(msg wire.Message, sourceIP string) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	handler(msg, sourceIP)
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *fakeConn) sentOfType(msgType string) []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.Message
	for _, msg := range c.sent {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// uniqueOfType collapses retransmits, returning one entry per message_id in
// first-send order.
func (c *fakeConn) uniqueOfType(msgType string) []wire.Message {
	seen := make(map[string]bool)
	var out []wire.Message
	for _, msg := range c.sentOfType(msgType) {
		if seen[msg.MessageID] {
			continue
		}
		seen[msg.MessageID] = true
		out = append(out, msg)
	}
	return out
}

type recordingSink struct {
	mu           sync.Mutex
	hellos       []wire.Message
	chats        []wire.Message
	files        []wire.Message
	peerUpdates  [][]discovery.Peer
	onlineCounts []int
	avatars      []string
}

func (s *recordingSink) OnHello(msg wire.Message, sourceIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hellos = append(s.hellos, msg)
}

func (s *recordingSink) OnChat(msg wire.Message, sourceIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, msg)
}

func (s *recordingSink) OnFile(msg wire.Message, sourceIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, msg)
}

func (s *recordingSink) OnPeersUpdated(peers []discovery.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]discovery.Peer, len(peers))
	copy(snapshot, peers)
	s.peerUpdates = append(s.peerUpdates, snapshot)
}

func (s *recordingSink) OnOnlineCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onlineCounts = append(s.onlineCounts, n)
}

func (s *recordingSink) OnAvatarUpdated(senderID, avatarSHA string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avatars = append(s.avatars, senderID+":"+avatarSHA)
}

func (s *recordingSink) Chats() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.chats))
	copy(out, s.chats)
	return out
}

func (s *recordingSink) Files() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.files))
	copy(out, s.files)
	return out
}

func (s *recordingSink) OnlineCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.onlineCounts))
	copy(out, s.onlineCounts)
	return out
}

func (s *recordingSink) Avatars() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.avatars))
	copy(out, s.avatars)
	return out
}

func (s *recordingSink) HelloCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hellos)
}

// addressFlag swaps the resolved local IP between an online and an offline
// value mid-test.
type addressFlag struct {
	mu sync.Mutex
	ip string
}

func (a *addressFlag) set(ip string) {
	a.mu.Lock()
	a.ip = ip
	a.mu.Unlock()
}

func (a *addressFlag) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ip
}

const (
	testOnlineIP  = "10.9.8.7"
	testOfflineIP = "127.0.0.1"
)

func newTestNetwork(t *testing.T, online bool, opts Options) (*Network, *fakeConn, *recordingSink, *addressFlag) {
	t.Helper()
	conn := &fakeConn{}
	sink := &recordingSink{}
	addr := &addressFlag{ip: testOfflineIP}
	if online {
		addr.set(testOnlineIP)
	}
	opts.Conn = conn
	opts.Sink = sink
	opts.LocalIP = addr.get
	if opts.Identity.SenderID == "" {
		opts.Identity = wire.Identity{SenderID: "self-id", Name: "self"}
	}
	if opts.Files == nil {
		opts.Files = fileserver.NewWithRange(52500, 52550)
	}
	network, err := New(opts)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	t.Cleanup(network.Shutdown)
	return network, conn, sink, addr
}

func peerChat(senderID, messageID, text string) wire.Message {
	return wire.Message{
		Type:      wire.TypeChat,
		Version:   wire.Version,
		MessageID: messageID,
		SenderID:  senderID,
		Name:      "peer-" + senderID,
		Timestamp: 1700000000000,
		Text:      text,
	}
}

func peerHello(senderID string, httpPort int) wire.Message {
	return wire.Message{
		Type:     wire.TypeHello,
		Version:  wire.Version,
		SenderID: senderID,
		Name:     "peer-" + senderID,
		HTTPPort: httpPort,
	}
}
