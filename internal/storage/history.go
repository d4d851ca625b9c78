package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"lanchat/internal/wire"
)

const historyBucket = "messages"

// HistoryStore persists chat and file messages using BoltDB so a restarted
// peer can reload recent conversation and the control API can serve history.
type HistoryStore struct {
	db *bbolt.DB
}

func OpenHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores msg keyed by sender timestamp + message_id. Appending the
// same message twice overwrites in place, so replays are harmless.
func (s *HistoryStore) Append(msg wire.Message) error {
	if s == nil || s.db == nil {
		return nil
	}
	if msg.MessageID == "" {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		key := []byte(fmt.Sprintf("%020d-%s", msg.Timestamp, msg.MessageID))
		return bucket.Put(key, data)
	})
}

// Recent returns up to limit messages, newest first.
func (s *HistoryStore) Recent(limit int) ([]wire.Message, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []wire.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil && limit > 0; k, v = cursor.Prev() {
			var msg wire.Message
			if err := json.Unmarshal(v, &msg); err == nil {
				out = append(out, msg)
			}
			limit--
		}
		return nil
	})
	return out, err
}

// Find returns the stored message with the given id, if present.
func (s *HistoryStore) Find(messageID string) (wire.Message, bool) {
	if s == nil || s.db == nil || messageID == "" {
		return wire.Message{}, false
	}
	var found wire.Message
	ok := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var msg wire.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if msg.MessageID == messageID {
				found = msg
				ok = true
				return nil
			}
		}
		return nil
	})
	return found, ok
}
