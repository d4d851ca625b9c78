package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lanchat/internal/api"
	"lanchat/internal/authutil"
	"lanchat/internal/lanchat"
	"lanchat/internal/storage"
	"lanchat/internal/ui"
	"lanchat/internal/wire"
)

func main() {
	cfg := lanchat.LoadConfig()
	display := ui.NewCLIDisplay(ui.ShouldUseColor(cfg.NoColor))

	var store *storage.HistoryStore
	if !cfg.NoHistory {
		var err error
		store, err = storage.OpenHistoryStore(cfg.HistoryDB)
		if err != nil {
			log.Printf("history disabled: %v", err)
		}
	}

	sinks := []lanchat.EventSink{display}
	var svc *api.Service
	if !cfg.NoAPI {
		svc = api.NewService(nil) // network attached below
		sinks = append(sinks, svc.Events())
	}

	network, err := lanchat.New(lanchat.Options{
		Identity: wire.Identity{
			SenderID:  cfg.SenderID,
			Name:      cfg.Name,
			AvatarSHA: cfg.AvatarSHA,
		},
		AvatarPath:     cfg.AvatarPath,
		AvatarCacheDir: cfg.AvatarCacheDir,
		Sink:           lanchat.NewMultiSink(sinks...),
		Store:          store,
		QueueLimit:     cfg.QueueLimit,
	})
	if err != nil {
		log.Fatalf("start network: %v", err)
	}

	display.ShowSystem(fmt.Sprintf("%s on the LAN as %s", cfg.Name, cfg.SenderID))
	if svc != nil {
		svc.Attach(network)
		network.FileServer().SetAPIHandler(svc.Handler())
		if port := network.EnsureFileServer(); port > 0 {
			token, err := authutil.IssueToken("local")
			if err != nil {
				log.Printf("issue api token: %v", err)
			} else {
				display.ShowSystem(fmt.Sprintf("control API: http://127.0.0.1:%d/api/v1 token=%s", port, token))
			}
		} else {
			log.Printf("control API unavailable: no free port in range")
		}
	}

	quit := make(chan struct{})
	go cliLoop(network, display, quit)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-quit:
	}
	log.Println("shutting down...")
	if svc != nil {
		svc.Close()
	}
	network.Shutdown()
	if store != nil {
		_ = store.Close()
	}
}

func cliLoop(network *lanchat.Network, display *ui.CLIDisplay, quit chan<- struct{}) {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				close(quit)
				return
			}
			log.Printf("stdin err: %v", err)
			close(quit)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handleCommand(line, network, display) {
				close(quit)
				return
			}
			continue
		}
		if _, err := network.SendChat(line); err != nil {
			display.ShowSystem(fmt.Sprintf("not sent: %v", err))
		}
	}
}

// handleCommand runs a slash command; returns true when the loop should exit.
func handleCommand(cmd string, network *lanchat.Network, display *ui.CLIDisplay) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "/peers":
		peers := network.PeersSnapshot()
		if len(peers) == 0 {
			display.ShowSystem("no peers online")
			return false
		}
		for _, p := range peers {
			label := p.Name
			if p.SourceIP != "" {
				label = fmt.Sprintf("%s (%s)", p.Name, p.SourceIP)
			}
			display.ShowSystem(" - " + label)
		}
	case "/send":
		if len(fields) < 2 {
			display.ShowSystem("usage: /send <path>")
			return false
		}
		path := strings.TrimSpace(strings.TrimPrefix(cmd, "/send"))
		if msg, err := network.SendFileFromPath(path); err != nil {
			display.ShowSystem(fmt.Sprintf("send file: %v", err))
		} else {
			display.ShowSystem(fmt.Sprintf("shared %s at %s", msg.Filename, msg.URL))
		}
	case "/queue":
		display.ShowSystem(fmt.Sprintf("queued messages: %d", network.QueueSize()))
	case "/pin":
		if pinned, ok := network.Pinned(); ok {
			display.ShowSystem(fmt.Sprintf("pinned: %s", pinned.Preview))
		} else {
			display.ShowSystem("nothing pinned")
		}
	case "/history":
		messages, err := network.History().Recent(20)
		if err != nil || len(messages) == 0 {
			display.ShowSystem("no history")
			return false
		}
		// Recent is newest first; replay oldest first.
		for i := len(messages) - 1; i >= 0; i-- {
			msg := messages[i]
			if msg.Type == wire.TypeFile {
				display.OnFile(msg, "")
			} else if msg.Subtype == "" {
				display.OnChat(msg, "")
			}
		}
	case "/quit":
		fmt.Println("bye")
		return true
	default:
		display.ShowSystem("commands: /peers /send /queue /pin /history /quit")
	}
	return false
}
