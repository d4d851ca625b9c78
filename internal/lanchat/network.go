package lanchat

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lanchat/internal/dedup"
	"lanchat/internal/discovery"
	"lanchat/internal/fileserver"
	"lanchat/internal/multicast"
	"lanchat/internal/storage"
	"lanchat/internal/wire"
)

const (
	helloInterval     = 2 * time.Second
	pruneInterval     = 2 * time.Second
	startupHelloDelay = 300 * time.Millisecond

	typingMinGap = 500 * time.Millisecond
	typingDefer  = 600 * time.Millisecond

	defaultQueueLimit = 200
)

var (
	retransmitDelays = []time.Duration{60 * time.Millisecond, 120 * time.Millisecond}
	retransmitJitter = 40 * time.Millisecond
	randSrc          = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMu           sync.Mutex
)

// Sending errors surfaced to the caller. Everything else degrades to
// queue-and-retry internally.
var (
	ErrTextTooLong = fmt.Errorf("text exceeds %d bytes", wire.MaxTextBytes)
	ErrNoHTTPPort  = errors.New("no free HTTP port available")
)

// Conn is the transport seam. *multicast.Transport is the production
// implementation; tests inject recording fakes.
type Conn interface {
	Start(handler multicast.Handler)
	Send(msg wire.Message) bool
	Close()
}

// Options describes the collaborators needed to construct a Network. The
// identity is loaded and persisted by the hosting application; the core
// never invents it.
type Options struct {
	Identity       wire.Identity
	AvatarPath     string
	AvatarCacheDir string
	Sink           EventSink
	Conn           Conn               // nil: open the real multicast transport
	Files          *fileserver.Server // nil: default port range
	Store          *storage.HistoryStore
	QueueLimit     int
	LocalIP        func() string // nil: route-based resolution
}

// Network is the orchestrator composing transport, peer directory, dedup
// cache and file server behind the send/receive API the UI consumes. Send
// calls return immediately with the locally-echoed message; delivery is best
// effort.
type Network struct {
	identity wire.Identity
	conn     Conn
	files    *fileserver.Server
	dir      *discovery.Directory
	dedup    *dedup.Cache
	store    *storage.HistoryStore
	sink     EventSink

	avatarPath     string
	avatarCacheDir string
	resolveIP      func() string
	queueLimit     int

	mu             sync.Mutex
	httpPort       int
	typing         bool
	lastTypingSent time.Time
	queue          []wire.Message
	networkReady   bool
	lastIP         string
	pinned         *wire.Message
	avatarFetching map[string]struct{}

	closed atomic.Bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// New wires the orchestrator and starts its receive loop and timers.
func New(opts Options) (*Network, error) {
	if opts.Identity.SenderID == "" {
		return nil, errors.New("identity sender_id required")
	}
	conn := opts.Conn
	if conn == nil {
		transport, err := multicast.Listen()
		if err != nil {
			return nil, fmt.Errorf("open multicast transport: %w", err)
		}
		conn = transport
	}
	files := opts.Files
	if files == nil {
		files = fileserver.New()
	}
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	queueLimit := opts.QueueLimit
	if queueLimit <= 0 {
		queueLimit = defaultQueueLimit
	}
	resolve := opts.LocalIP
	if resolve == nil {
		resolve = localIP
	}

	n := &Network{
		identity:       opts.Identity,
		conn:           conn,
		files:          files,
		dir:            discovery.NewDirectory(),
		dedup:          dedup.NewCache(),
		store:          opts.Store,
		sink:           sink,
		avatarPath:     opts.AvatarPath,
		avatarCacheDir: opts.AvatarCacheDir,
		resolveIP:      resolve,
		queueLimit:     queueLimit,
		avatarFetching: make(map[string]struct{}),
		quit:           make(chan struct{}),
	}
	n.refreshNetworkState()

	// The local peer shows up in its own directory, so online count and the
	// peer list include self from the start.
	selfIP := n.currentIP()
	n.dir.UpdateHello(wire.NewHello(n.identity, 0, false), selfIP)
	sink.OnPeersUpdated(n.dir.Snapshot())
	sink.OnOnlineCount(n.dir.Count())

	conn.Start(n.onMessage)

	n.wg.Add(2)
	go n.runHelloLoop()
	go n.runPruneLoop()
	time.AfterFunc(startupHelloDelay, func() {
		if !n.closed.Load() {
			n.SendHello()
		}
	})
	return n, nil
}

func (n *Network) runHelloLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(helloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
			n.SendHello()
		}
	}
}

func (n *Network) runPruneLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
			if n.dir.Prune(discovery.PeerTTL) {
				n.sink.OnOnlineCount(n.dir.Count())
			}
			n.sink.OnPeersUpdated(n.dir.Snapshot())
		}
	}
}

// SendHello broadcasts the presence announcement and opportunistically
// flushes the offline queue. It also keeps the file server and the local
// avatar registration alive when an avatar is configured.
func (n *Network) SendHello() {
	n.refreshNetworkState()
	if n.avatarPath != "" && n.identity.AvatarSHA != "" {
		if port := n.files.EnsureRunning(); port > 0 {
			n.setHTTPPort(port)
			n.files.Registry().RegisterAvatar(n.identity.AvatarSHA, n.avatarPath)
		}
	}
	n.mu.Lock()
	msg := wire.NewHello(n.identity, n.httpPort, n.typing)
	n.mu.Unlock()
	n.conn.Send(msg)
	n.flushQueue()
}

// SendChat broadcasts a plain chat message. The returned message is the
// local echo; it is handed back even when the send was queued for later.
func (n *Network) SendChat(text string) (wire.Message, error) {
	if len(text) > wire.MaxTextBytes {
		return wire.Message{}, ErrTextTooLong
	}
	msg := wire.NewChat(n.identity, text)
	n.dispatch(msg)
	return msg, nil
}

// SendChatWithMeta attaches reply/link-preview metadata to a chat send.
func (n *Network) SendChatWithMeta(text string, meta wire.ChatMeta) (wire.Message, error) {
	if len(text) > wire.MaxTextBytes {
		return wire.Message{}, ErrTextTooLong
	}
	msg := wire.NewChatWithMeta(n.identity, text, meta)
	n.dispatch(msg)
	return msg, nil
}

func (n *Network) SendReaction(targetID, emoji string) wire.Message {
	msg := wire.NewReaction(n.identity, targetID, emoji)
	n.dispatch(msg)
	return msg
}

func (n *Network) SendEdit(targetID, text string) (wire.Message, error) {
	if len(text) > wire.MaxTextBytes {
		return wire.Message{}, ErrTextTooLong
	}
	msg := wire.NewEdit(n.identity, targetID, text)
	n.dispatch(msg)
	return msg, nil
}

func (n *Network) SendUndo(targetID string) wire.Message {
	msg := wire.NewUndo(n.identity, targetID)
	n.dispatch(msg)
	return msg
}

func (n *Network) SendPin(targetID, preview string) wire.Message {
	msg := wire.NewPin(n.identity, targetID, preview)
	n.trackPin(msg)
	n.dispatch(msg)
	return msg
}

func (n *Network) SendUnpin(targetID string) wire.Message {
	msg := wire.NewUnpin(n.identity, targetID)
	n.trackPin(msg)
	n.dispatch(msg)
	return msg
}

// SendFile announces a local file. The bytes never travel over multicast:
// peers fetch them from the embedded HTTP server at the announced URL.
// Fails hard when no port in range is free, since a file message without a
// reachable URL is meaningless.
func (n *Network) SendFile(fileID, path, filename string, size int64, sha256 string) (wire.Message, error) {
	port := n.files.EnsureRunning()
	if port == 0 {
		return wire.Message{}, ErrNoHTTPPort
	}
	if n.setHTTPPort(port) {
		n.SendHello()
	}
	n.files.Registry().RegisterFile(fileID, path)
	n.refreshNetworkState()
	url := fmt.Sprintf("http://%s:%d/f/%s", n.currentIP(), port, fileID)
	msg := wire.NewFile(n.identity, fileID, filename, size, sha256, url)
	n.dispatch(msg)
	return msg, nil
}

// RegisterCachedFile re-registers a previously shared file after a restart
// so old attachments stay downloadable, without re-announcing them.
func (n *Network) RegisterCachedFile(fileID, path string) {
	port := n.files.EnsureRunning()
	if port == 0 {
		return
	}
	if n.setHTTPPort(port) {
		n.SendHello()
	}
	n.files.Registry().RegisterFile(fileID, path)
}

// SetTyping coalesces rapid typing flips: a flip is broadcast immediately
// only if enough time passed since the previous typing broadcast, otherwise
// the announcement is deferred so keystroke flicker collapses into one HELLO.
func (n *Network) SetTyping(typing bool) {
	n.mu.Lock()
	if typing == n.typing {
		n.mu.Unlock()
		return
	}
	n.typing = typing
	now := time.Now()
	if now.Sub(n.lastTypingSent) < typingMinGap {
		n.mu.Unlock()
		time.AfterFunc(typingDefer, func() {
			if !n.closed.Load() {
				n.SendHello()
			}
		})
		return
	}
	n.lastTypingSent = now
	n.mu.Unlock()
	n.SendHello()
}

// QueueSize reports the number of messages waiting for connectivity.
func (n *Network) QueueSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// PeersSnapshot returns a point-in-time copy of the peer directory.
func (n *Network) PeersSnapshot() []discovery.Peer {
	return n.dir.Snapshot()
}

// OnlineCount reports the number of tracked peers, self included.
func (n *Network) OnlineCount() int {
	return n.dir.Count()
}

// APIPort returns the bound HTTP port, or 0 when serving is unavailable.
func (n *Network) APIPort() int {
	return n.files.Port()
}

// Pinned returns the currently pinned message, if any.
func (n *Network) Pinned() (wire.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pinned == nil {
		return wire.Message{}, false
	}
	return *n.pinned, true
}

// History exposes the persisted message log, when configured.
func (n *Network) History() *storage.HistoryStore {
	return n.store
}

// Identity returns the local sender identity.
func (n *Network) Identity() wire.Identity {
	return n.identity
}

// SelfIP returns the last resolved local address.
func (n *Network) SelfIP() string {
	return n.currentIP()
}

// EnsureFileServer starts the embedded HTTP server if possible and returns
// its port, announcing the new port when it changed.
func (n *Network) EnsureFileServer() int {
	port := n.files.EnsureRunning()
	if port > 0 && n.setHTTPPort(port) {
		n.SendHello()
	}
	return port
}

// FileServer exposes the embedded server so the host can mount the control
// API handler.
func (n *Network) FileServer() *fileserver.Server {
	return n.files
}

// Shutdown stops timers, the receive loop and the file server. Idempotent
// and safe even after a partial start; retransmit callbacks scheduled before
// shutdown become no-ops.
func (n *Network) Shutdown() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}
	close(n.quit)
	n.wg.Wait()
	n.conn.Close()
	n.files.Shutdown()
}

// dispatch persists the outbound message and routes it through send-or-queue.
func (n *Network) dispatch(msg wire.Message) {
	if n.store != nil {
		if err := n.store.Append(msg); err != nil {
			log.Printf("history append: %v", err)
		}
	}
	n.sendOrQueue(msg)
}

func (n *Network) sendOrQueue(msg wire.Message) {
	n.refreshNetworkState()
	n.mu.Lock()
	ready := n.networkReady
	n.mu.Unlock()
	if !ready {
		n.queueMessage(msg)
		return
	}
	if !n.conn.Send(msg) {
		n.queueMessage(msg)
		return
	}
	n.scheduleRetransmits(msg)
}

// scheduleRetransmits fires two supplementary sends of the same message so a
// lossy multicast delivers at least once; receivers dedup by message_id.
func (n *Network) scheduleRetransmits(msg wire.Message) {
	for _, delay := range retransmitDelays {
		randMu.Lock()
		jitter := time.Duration(randSrc.Int63n(int64(retransmitJitter)))
		randMu.Unlock()
		time.AfterFunc(delay+jitter, func() {
			if !n.closed.Load() {
				n.conn.Send(msg)
			}
		})
	}
}

func (n *Network) queueMessage(msg wire.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= n.queueLimit {
		n.queue = n.queue[len(n.queue)-n.queueLimit+1:]
	}
	n.queue = append(n.queue, msg)
}

// flushQueue retries everything queued. Queued FILE messages re-verify the
// file server and rewrite their URL first: a stale port would make the URL
// permanently unreachable.
func (n *Network) flushQueue() {
	n.mu.Lock()
	if !n.networkReady || len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	pending := n.queue
	n.queue = nil
	ip := n.lastIP
	n.mu.Unlock()

	var remaining []wire.Message
	for _, msg := range pending {
		if msg.Type == wire.TypeFile {
			port := n.files.EnsureRunning()
			if port == 0 {
				remaining = append(remaining, msg)
				continue
			}
			n.setHTTPPort(port)
			if msg.FileID != "" {
				msg.URL = fmt.Sprintf("http://%s:%d/f/%s", ip, port, msg.FileID)
			}
		}
		if n.conn.Send(msg) {
			n.scheduleRetransmits(msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	if len(remaining) > 0 {
		n.mu.Lock()
		n.queue = append(remaining, n.queue...)
		if over := len(n.queue) - n.queueLimit; over > 0 {
			n.queue = n.queue[over:]
		}
		n.mu.Unlock()
	}
}

// onMessage routes every decoded datagram from the transport.
func (n *Network) onMessage(msg wire.Message, sourceIP string) {
	if msg.Type == wire.TypeHello {
		changed := n.dir.UpdateHello(msg, sourceIP)
		n.sink.OnHello(msg, sourceIP)
		n.sink.OnPeersUpdated(n.dir.Snapshot())
		if changed {
			n.sink.OnOnlineCount(n.dir.Count())
		}
		n.maybeFetchAvatar(msg, sourceIP)
		return
	}

	if msg.MessageID == "" {
		return
	}
	// Loopback is enabled on the send socket, so our own messages come back.
	if msg.SenderID == n.identity.SenderID {
		return
	}
	if n.dedup.Seen(msg.MessageID) {
		return
	}
	if n.store != nil {
		if err := n.store.Append(msg); err != nil {
			log.Printf("history append: %v", err)
		}
	}
	switch msg.Type {
	case wire.TypeChat:
		n.trackPin(msg)
		n.sink.OnChat(msg, sourceIP)
	case wire.TypeFile:
		n.sink.OnFile(n.withFallbackURL(msg, sourceIP), sourceIP)
	}
}

// withFallbackURL substitutes the observed source IP when the announced
// download URL carries no usable host.
func (n *Network) withFallbackURL(msg wire.Message, sourceIP string) wire.Message {
	parsed, err := url.Parse(msg.URL)
	if err == nil && parsed.Hostname() != "" {
		return msg
	}
	port := 0
	if err == nil && parsed.Port() != "" {
		port, _ = strconv.Atoi(parsed.Port())
	}
	if port == 0 {
		if peer, ok := n.dir.Lookup(msg.SenderID); ok {
			port = peer.HTTPPort
		}
	}
	if port == 0 || msg.FileID == "" {
		return msg
	}
	msg.URL = fmt.Sprintf("http://%s:%d/f/%s", sourceIP, port, msg.FileID)
	return msg
}

func (n *Network) trackPin(msg wire.Message) {
	switch msg.Subtype {
	case wire.SubtypePin:
		n.mu.Lock()
		pinned := msg
		n.pinned = &pinned
		n.mu.Unlock()
	case wire.SubtypeUnpin:
		n.mu.Lock()
		n.pinned = nil
		n.mu.Unlock()
	}
}

func (n *Network) setHTTPPort(port int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if port == n.httpPort {
		return false
	}
	n.httpPort = port
	return true
}

func (n *Network) refreshNetworkState() {
	ip := n.resolveIP()
	n.mu.Lock()
	n.lastIP = ip
	n.networkReady = usableIP(ip)
	n.mu.Unlock()
}

func (n *Network) currentIP() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastIP
}
