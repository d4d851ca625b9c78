package lanchat

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lanchat/internal/storage"
	"lanchat/internal/wire"
)

func TestSendChatBroadcastsWhenOnline(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	msg, err := network.SendChat("hello lan")
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if msg.Text != "hello lan" || msg.MessageID == "" {
		t.Fatalf("local echo malformed: %+v", msg)
	}
	chats := conn.uniqueOfType(wire.TypeChat)
	if len(chats) != 1 || chats[0].Text != "hello lan" {
		t.Fatalf("expected one chat on the wire, got %v", chats)
	}
	if network.QueueSize() != 0 {
		t.Fatalf("nothing should queue while online")
	}
}

func TestSendChatQueuesWhenOffline(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, false, Options{})
	if _, err := network.SendChat("anyone there"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if network.QueueSize() != 1 {
		t.Fatalf("offline send should queue, size=%d", network.QueueSize())
	}
	if chats := conn.sentOfType(wire.TypeChat); len(chats) != 0 {
		t.Fatalf("offline send must not hit the wire: %v", chats)
	}
}

func TestSendFailureFallsBackToQueue(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	conn.setFail(true)
	if _, err := network.SendChat("lost"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if network.QueueSize() != 1 {
		t.Fatalf("failed send should queue, size=%d", network.QueueSize())
	}
}

func TestQueueDropsOldestAtLimit(t *testing.T) {
	network, conn, _, addr := newTestNetwork(t, false, Options{QueueLimit: 3})
	for _, text := range []string{"one", "two", "three", "four"} {
		if _, err := network.SendChat(text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	if network.QueueSize() != 3 {
		t.Fatalf("queue should cap at 3, size=%d", network.QueueSize())
	}

	addr.set(testOnlineIP)
	network.SendHello()
	if network.QueueSize() != 0 {
		t.Fatalf("flush should drain the queue, size=%d", network.QueueSize())
	}
	var texts []string
	for _, msg := range conn.uniqueOfType(wire.TypeChat) {
		texts = append(texts, msg.Text)
	}
	joined := strings.Join(texts, ",")
	if joined != "two,three,four" {
		t.Fatalf("oldest message should have been dropped, sent: %s", joined)
	}
}

func TestFlushRewritesQueuedFileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "share.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	network, conn, _, addr := newTestNetwork(t, false, Options{})
	msg, err := network.SendFile("fid-1", path, "share.bin", 7, "deadbeef")
	if err != nil {
		t.Fatalf("send file: %v", err)
	}
	if msg.URL == "" {
		t.Fatalf("announce should carry a url even when queued")
	}
	if network.QueueSize() != 1 {
		t.Fatalf("offline file announce should queue, size=%d", network.QueueSize())
	}

	addr.set(testOnlineIP)
	network.SendHello()
	files := conn.uniqueOfType(wire.TypeFile)
	if len(files) != 1 {
		t.Fatalf("expected one file announce, got %v", files)
	}
	url := files[0].URL
	if !strings.Contains(url, testOnlineIP) || !strings.HasSuffix(url, "/f/fid-1") {
		t.Fatalf("flushed url not rewritten for the live address: %s", url)
	}
}

func TestRegisterCachedFileServesWithoutAnnouncing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.txt")
	if err := os.WriteFile(path, []byte("from last session"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	network, conn, _, _ := newTestNetwork(t, true, Options{})
	network.RegisterCachedFile("fid-old", path)
	if files := conn.sentOfType(wire.TypeFile); len(files) != 0 {
		t.Fatalf("re-registration must not announce: %v", files)
	}

	port := network.APIPort()
	if port == 0 {
		t.Fatalf("file server should be running after registration")
	}
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/f/fid-old", port))
	if err != nil {
		t.Fatalf("fetch cached file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cached file should serve, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "from last session" {
		t.Fatalf("served bytes differ: %q", body)
	}
}

func TestSendChatRejectsOversizeText(t *testing.T) {
	network, _, _, _ := newTestNetwork(t, true, Options{})
	if _, err := network.SendChat(strings.Repeat("x", wire.MaxTextBytes+1)); err != ErrTextTooLong {
		t.Fatalf("expected ErrTextTooLong, got %v", err)
	}
	if network.QueueSize() != 0 {
		t.Fatalf("oversize text must never queue")
	}
}

func TestIncomingChatDeliveredExactlyOnce(t *testing.T) {
	_, conn, sink, _ := newTestNetwork(t, true, Options{})
	msg := peerChat("other", "m-1", "hi there")
	conn.deliver(msg, "10.0.0.3")
	conn.deliver(msg, "10.0.0.3")
	conn.deliver(msg, "10.0.0.3")
	if chats := sink.Chats(); len(chats) != 1 {
		t.Fatalf("retransmits should collapse to one delivery, got %d", len(chats))
	}
}

func TestOwnLoopbackSuppressed(t *testing.T) {
	_, conn, sink, _ := newTestNetwork(t, true, Options{})
	conn.deliver(peerChat("self-id", "m-1", "echo"), "10.9.8.7")
	if chats := sink.Chats(); len(chats) != 0 {
		t.Fatalf("own messages must not be re-delivered, got %v", chats)
	}
}

func TestChatWithoutIDDropped(t *testing.T) {
	_, conn, sink, _ := newTestNetwork(t, true, Options{})
	conn.deliver(peerChat("other", "", "anonymous"), "10.0.0.3")
	if chats := sink.Chats(); len(chats) != 0 {
		t.Fatalf("id-less chat must be dropped, got %v", chats)
	}
}

func TestHelloPopulatesDirectory(t *testing.T) {
	network, conn, sink, _ := newTestNetwork(t, true, Options{})
	if network.OnlineCount() != 1 {
		t.Fatalf("directory should start with self, count=%d", network.OnlineCount())
	}
	conn.deliver(peerHello("other", 51340), "10.0.0.3")
	if network.OnlineCount() != 2 {
		t.Fatalf("hello should register the peer, count=%d", network.OnlineCount())
	}
	if sink.HelloCount() != 1 {
		t.Fatalf("hello event not delivered")
	}
	counts := sink.OnlineCounts()
	if len(counts) == 0 || counts[len(counts)-1] != 2 {
		t.Fatalf("count change not announced: %v", counts)
	}

	// A refresh from the same peer must not announce the count again.
	before := len(sink.OnlineCounts())
	conn.deliver(peerHello("other", 51340), "10.0.0.3")
	if after := len(sink.OnlineCounts()); after != before {
		t.Fatalf("membership-neutral hello should not announce count")
	}
}

func TestIncomingPinTracked(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	pin := peerChat("other", "m-pin", "")
	pin.Subtype = wire.SubtypePin
	pin.TargetID = "m-1"
	pin.Preview = "lunch at 12"
	conn.deliver(pin, "10.0.0.3")

	pinned, ok := network.Pinned()
	if !ok || pinned.Preview != "lunch at 12" {
		t.Fatalf("pin not tracked: %v %v", pinned, ok)
	}

	unpin := peerChat("other", "m-unpin", "")
	unpin.Subtype = wire.SubtypeUnpin
	unpin.TargetID = "m-1"
	conn.deliver(unpin, "10.0.0.3")
	if _, ok := network.Pinned(); ok {
		t.Fatalf("unpin should clear the tracked pin")
	}
}

func TestSendPinTracksLocally(t *testing.T) {
	network, _, _, _ := newTestNetwork(t, true, Options{})
	network.SendPin("m-1", "the plan")
	if pinned, ok := network.Pinned(); !ok || pinned.Preview != "the plan" {
		t.Fatalf("local pin not tracked")
	}
	network.SendUnpin("m-1")
	if _, ok := network.Pinned(); ok {
		t.Fatalf("local unpin should clear the pin")
	}
}

func TestFileURLFallbackFromSourceAddress(t *testing.T) {
	_, conn, sink, _ := newTestNetwork(t, true, Options{})
	conn.deliver(peerHello("other", 51342), "10.0.0.3")

	file := wire.Message{
		Type:      wire.TypeFile,
		Version:   wire.Version,
		MessageID: "m-f1",
		SenderID:  "other",
		Name:      "peer-other",
		FileID:    "fid-9",
		Filename:  "pic.png",
		Size:      5,
	}
	conn.deliver(file, "10.0.0.3")

	files := sink.Files()
	if len(files) != 1 {
		t.Fatalf("expected one file event, got %d", len(files))
	}
	if files[0].URL != "http://10.0.0.3:51342/f/fid-9" {
		t.Fatalf("fallback url wrong: %s", files[0].URL)
	}
}

func TestHistoryRecordsBothDirections(t *testing.T) {
	store, err := storage.OpenHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	network, conn, _, _ := newTestNetwork(t, true, Options{Store: store})
	if _, err := network.SendChat("outbound"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	conn.deliver(peerChat("other", "m-in", "inbound"), "10.0.0.3")

	messages, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var texts []string
	for _, msg := range messages {
		texts = append(texts, msg.Text)
	}
	joined := strings.Join(texts, ",")
	if !strings.Contains(joined, "outbound") || !strings.Contains(joined, "inbound") {
		t.Fatalf("history incomplete: %s", joined)
	}
}

func TestTypingFlipAnnouncesImmediately(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	network.SetTyping(true)
	var sawTyping bool
	for _, hello := range conn.sentOfType(wire.TypeHello) {
		if hello.Typing {
			sawTyping = true
		}
	}
	if !sawTyping {
		t.Fatalf("first typing flip should broadcast a typing hello at once")
	}
}

func TestTypingFlipWithinGapIsDeferred(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	countNotTyping := func() int {
		count := 0
		for _, hello := range conn.sentOfType(wire.TypeHello) {
			if !hello.Typing {
				count++
			}
		}
		return count
	}

	network.SetTyping(true)
	network.SetTyping(false)
	// The second flip lands inside the 500ms gap: nothing goes out now.
	if count := countNotTyping(); count != 0 {
		t.Fatalf("flip inside the gap must not broadcast immediately, saw %d hellos", count)
	}
	waitFor(t, "deferred typing hello", func() bool {
		return countNotTyping() > 0
	})
}

func TestSendSchedulesTwoRetransmits(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	msg, err := network.SendChat("going twice")
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	countSends := func() int {
		count := 0
		for _, sent := range conn.sentOfType(wire.TypeChat) {
			if sent.MessageID == msg.MessageID {
				count++
			}
		}
		return count
	}
	// Initial send plus the 60ms and 120ms (+jitter) retransmissions.
	waitFor(t, "retransmits", func() bool {
		return countSends() == 3
	})
	time.Sleep(200 * time.Millisecond)
	if count := countSends(); count != 3 {
		t.Fatalf("expected exactly 3 sends of one message, got %d", count)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	network, conn, _, _ := newTestNetwork(t, true, Options{})
	network.Shutdown()
	network.Shutdown()
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatalf("transport should be closed after shutdown")
	}
	if _, err := network.SendChat("after close"); err != nil {
		t.Fatalf("send after shutdown should still queue or send locally: %v", err)
	}
}
