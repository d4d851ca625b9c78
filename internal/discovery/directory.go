package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"lanchat/internal/wire"
)

// PeerTTL is how long a peer stays listed without a fresh HELLO. It is a
// small multiple of the 2s announce interval so a couple of lost datagrams
// do not flap presence.
const PeerTTL = 8 * time.Second

// Peer is a point-in-time record of a reachable peer, derived purely from
// its HELLO announcements plus the observed source address.
type Peer struct {
	SenderID  string    `json:"sender_id"`
	Name      string    `json:"name"`
	AvatarSHA string    `json:"avatar_sha256"`
	HTTPPort  int       `json:"http_port"`
	SourceIP  string    `json:"sender_ip"`
	Typing    bool      `json:"typing"`
	LastSeen  time.Time `json:"-"`
}

// Directory tracks live peers keyed by sender_id. Peers never "leave":
// liveness is purely a timeout over periodic announcements, because the
// transport offers no disconnect signal.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]Peer
	now   func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		peers: make(map[string]Peer),
		now:   time.Now,
	}
}

// UpdateHello upserts the peer announced by msg. It reports whether the
// number of tracked peers changed; field-only churn (typing, avatar) does
// not count, so callers can avoid flooding listeners with no-op updates.
func (d *Directory) UpdateHello(msg wire.Message, sourceIP string) bool {
	if msg.SenderID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	before := len(d.peers)
	d.peers[msg.SenderID] = Peer{
		SenderID:  msg.SenderID,
		Name:      msg.Name,
		AvatarSHA: msg.AvatarSHA,
		HTTPPort:  msg.HTTPPort,
		SourceIP:  sourceIP,
		Typing:    msg.Typing,
		LastSeen:  d.now(),
	}
	return len(d.peers) != before
}

// Prune drops peers whose last HELLO is older than ttl and reports whether
// membership shrank.
func (d *Directory) Prune(ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	before := len(d.peers)
	for id, peer := range d.peers {
		if now.Sub(peer.LastSeen) > ttl {
			delete(d.peers, id)
		}
	}
	return len(d.peers) != before
}

// Snapshot returns a copy of the current peer set, sorted by name, safe to
// hand across goroutine boundaries.
func (d *Directory) Snapshot() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]Peer, 0, len(d.peers))
	for _, peer := range d.peers {
		list = append(list, peer)
	}
	sort.Slice(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
	return list
}

// Lookup returns the tracked record for a sender, if any.
func (d *Directory) Lookup(senderID string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peer, ok := d.peers[senderID]
	return peer, ok
}

// Count reports the current number of tracked peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
