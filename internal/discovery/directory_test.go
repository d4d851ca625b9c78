package discovery

import (
	"testing"
	"time"

	"lanchat/internal/wire"
)

func hello(senderID, name string, port int, typing bool) wire.Message {
	return wire.Message{
		Type:     wire.TypeHello,
		Version:  wire.Version,
		SenderID: senderID,
		Name:     name,
		HTTPPort: port,
		Typing:   typing,
	}
}

func TestUpdateHelloReportsMembershipChangeOnly(t *testing.T) {
	dir := NewDirectory()
	if !dir.UpdateHello(hello("a", "alice", 51338, false), "10.0.0.2") {
		t.Fatalf("first hello should grow membership")
	}
	if dir.UpdateHello(hello("a", "alice", 51338, true), "10.0.0.2") {
		t.Fatalf("refresh of a known peer should not report a change")
	}
	if dir.Count() != 1 {
		t.Fatalf("expected 1 peer, got %d", dir.Count())
	}
	peer, ok := dir.Lookup("a")
	if !ok {
		t.Fatalf("peer a should be tracked")
	}
	if !peer.Typing {
		t.Fatalf("refresh should update the typing flag")
	}
}

func TestUpdateHelloIgnoresEmptySender(t *testing.T) {
	dir := NewDirectory()
	if dir.UpdateHello(hello("", "ghost", 0, false), "10.0.0.9") {
		t.Fatalf("hello without sender_id must be ignored")
	}
	if dir.Count() != 0 {
		t.Fatalf("ghost peer was tracked")
	}
}

func TestPruneDropsSilentPeers(t *testing.T) {
	dir := NewDirectory()
	current := time.Unix(5000, 0)
	dir.now = func() time.Time { return current }

	dir.UpdateHello(hello("a", "alice", 0, false), "10.0.0.2")
	current = current.Add(3 * time.Second)
	dir.UpdateHello(hello("b", "bob", 0, false), "10.0.0.3")

	current = current.Add(6 * time.Second)
	if !dir.Prune(PeerTTL) {
		t.Fatalf("alice has been silent past the ttl, prune should report a change")
	}
	if _, ok := dir.Lookup("a"); ok {
		t.Fatalf("silent peer should be gone")
	}
	if _, ok := dir.Lookup("b"); !ok {
		t.Fatalf("recently seen peer should stay")
	}
	if dir.Prune(PeerTTL) {
		t.Fatalf("second prune should be a no-op")
	}
}

func TestSnapshotSortedByName(t *testing.T) {
	dir := NewDirectory()
	dir.UpdateHello(hello("1", "Zoe", 0, false), "10.0.0.2")
	dir.UpdateHello(hello("2", "amy", 0, false), "10.0.0.3")
	dir.UpdateHello(hello("3", "Bob", 0, false), "10.0.0.4")

	peers := dir.Snapshot()
	if len(peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(peers))
	}
	if peers[0].Name != "amy" || peers[1].Name != "Bob" || peers[2].Name != "Zoe" {
		t.Fatalf("snapshot not sorted case-insensitively: %v", peers)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	dir := NewDirectory()
	dir.UpdateHello(hello("a", "alice", 0, false), "10.0.0.2")
	snap := dir.Snapshot()
	snap[0].Name = "mutated"
	if peer, _ := dir.Lookup("a"); peer.Name != "alice" {
		t.Fatalf("mutating a snapshot must not touch the directory")
	}
}
