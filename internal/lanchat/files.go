package lanchat

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"lanchat/internal/wire"
)

// SendFileFromPath hashes a local file and announces it under a fresh file
// id. Convenience wrapper used by the control API's send-by-path endpoint.
func (n *Network) SendFileFromPath(path string) (wire.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return wire.Message{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return wire.Message{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return wire.Message{}, err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return n.SendFile(uuid.NewString(), path, filepath.Base(path), info.Size(), sum)
}

// HashFile returns the hex sha256 of a local file, used to derive avatar
// identifiers before a Network exists.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
