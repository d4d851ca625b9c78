package ui

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"lanchat/internal/discovery"
	"lanchat/internal/wire"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiSys   = "\x1b[32m"
)

// CLIDisplay renders network events to stdout. It implements the
// orchestrator's sink interface and is safe for the concurrent delivery the
// receive loop and timers produce.
type CLIDisplay struct {
	color bool
	mu    sync.Mutex
	// last observed typing flag per sender, so the indicator only prints on
	// the flip to true
	typing map[string]bool
}

func NewCLIDisplay(color bool) *CLIDisplay {
	return &CLIDisplay{color: color, typing: make(map[string]bool)}
}

func (c *CLIDisplay) OnChat(msg wire.Message, sourceIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Subtype {
	case wire.SubtypeReact:
		c.systemLine(fmt.Sprintf("%s reacted %s to a message", displayName(msg), msg.Emoji))
	case wire.SubtypeEdit:
		c.systemLine(fmt.Sprintf("%s edited a message: %s", displayName(msg), msg.Text))
	case wire.SubtypeUndo:
		c.systemLine(fmt.Sprintf("%s removed a message", displayName(msg)))
	case wire.SubtypePin:
		c.systemLine(fmt.Sprintf("%s pinned: %s", displayName(msg), msg.Preview))
	case wire.SubtypeUnpin:
		c.systemLine(fmt.Sprintf("%s unpinned the message", displayName(msg)))
	default:
		c.chatLine(msg)
	}
}

func (c *CLIDisplay) OnFile(msg wire.Message, sourceIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := formatTimestamp(msg.Timestamp)
	line := fmt.Sprintf("%s shared %s (%s) %s", displayName(msg), msg.Filename, formatSize(msg.Size), msg.URL)
	if c.color {
		fmt.Printf("%s[%s]%s %s\n", ansiTime, ts, ansiReset, line)
		return
	}
	fmt.Printf("[%s] %s\n", ts, line)
}

func (c *CLIDisplay) OnHello(msg wire.Message, sourceIP string) {
	if msg.SenderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.typing[msg.SenderID]
	c.typing[msg.SenderID] = msg.Typing
	if msg.Typing && !was {
		c.systemLine(fmt.Sprintf("%s is typing...", displayName(msg)))
	}
}

func (c *CLIDisplay) OnPeersUpdated(peers []discovery.Peer) {}

func (c *CLIDisplay) OnOnlineCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemLine(fmt.Sprintf("online: %d", n))
}

func (c *CLIDisplay) OnAvatarUpdated(senderID, avatarSHA string) {}

// ShowSystem prints a system-level line outside the event flow, such as
// startup banners and command output.
func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemLine(text)
}

func (c *CLIDisplay) chatLine(msg wire.Message) {
	ts := formatTimestamp(msg.Timestamp)
	text := msg.Text
	if msg.ReplyPreview != "" {
		text = fmt.Sprintf("(re %s: %s) %s", msg.ReplyName, msg.ReplyPreview, msg.Text)
	}
	if c.color {
		fmt.Printf("%s[%s]%s %s%s%s: %s\n", ansiTime, ts, ansiReset, ansiName, displayName(msg), ansiReset, text)
		return
	}
	fmt.Printf("[%s] %s: %s\n", ts, displayName(msg), text)
}

func (c *CLIDisplay) systemLine(text string) {
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Printf("%s[%s]%s %s*%s %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Printf("[%s] * %s\n", ts, text)
}

func displayName(msg wire.Message) string {
	if msg.Name != "" {
		return msg.Name
	}
	if len(msg.SenderID) >= 8 {
		return msg.SenderID[:8]
	}
	return "unknown"
}

func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return time.Now().Format("15:04:05")
	}
	return time.UnixMilli(ms).Format("15:04:05")
}

func formatSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
