package lanchat

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lanchat/internal/wire"
)

const avatarFetchTimeout = 6 * time.Second

var avatarClient = &http.Client{Timeout: avatarFetchTimeout}

// AvatarCachePath returns where an avatar with the given hash is cached.
func AvatarCachePath(cacheDir, sha string) string {
	return filepath.Join(cacheDir, sha+".png")
}

// maybeFetchAvatar downloads a newly-seen peer avatar in the background.
// One fetch per hash is in flight at a time; cached hashes are never
// fetched again.
func (n *Network) maybeFetchAvatar(msg wire.Message, sourceIP string) {
	sha := msg.AvatarSHA
	if sha == "" || msg.HTTPPort <= 0 || msg.SenderID == "" {
		return
	}
	if msg.SenderID == n.identity.SenderID || n.avatarCacheDir == "" {
		return
	}
	dest := AvatarCachePath(n.avatarCacheDir, sha)
	if _, err := os.Stat(dest); err == nil {
		return
	}
	n.mu.Lock()
	if _, inflight := n.avatarFetching[sha]; inflight {
		n.mu.Unlock()
		return
	}
	n.avatarFetching[sha] = struct{}{}
	n.mu.Unlock()

	url := fmt.Sprintf("http://%s:%d/avatar/%s", sourceIP, msg.HTTPPort, sha)
	go n.fetchAvatar(url, dest, msg.SenderID, sha)
}

func (n *Network) fetchAvatar(url, dest, senderID, sha string) {
	defer func() {
		n.mu.Lock()
		delete(n.avatarFetching, sha)
		n.mu.Unlock()
	}()
	if err := downloadTo(url, dest); err != nil {
		log.Printf("avatar fetch %s: %v", sha, err)
		return
	}
	if !n.closed.Load() {
		n.sink.OnAvatarUpdated(senderID, sha)
	}
}

func downloadTo(url, dest string) error {
	resp, err := avatarClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".avatar-*")
	if err != nil {
		return err
	}
	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil || written == 0 {
		_ = os.Remove(tmp.Name())
		if err == nil {
			err = closeErr
		}
		if err == nil {
			err = fmt.Errorf("empty avatar response")
		}
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
