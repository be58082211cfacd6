package client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// PendingSend is a queued message send.
type PendingSend struct {
	ClientToken    string    `json:"clientToken"`
	ConversationID uint      `json:"conversationId"`
	Type           string    `json:"type"`
	Content        string    `json:"content,omitempty"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	QueuedAt       time.Time `json:"queuedAt"`
}

func (p PendingSend) request() SendRequest {
	return SendRequest{Type: p.Type, Content: p.Content, MediaURL: p.MediaURL, ClientToken: p.ClientToken}
}

// Outbox holds sends in the order they were made. Append of a token that is
// already queued is a no-op.
type Outbox interface {
	Append(p PendingSend) error
	List() ([]PendingSend, error)
	Remove(clientToken string) error
}

// MemoryOutbox is an Outbox that lives as long as the process.
type MemoryOutbox struct {
	mu    sync.Mutex
	items []PendingSend
}

// NewMemoryOutbox returns an empty in-memory outbox.
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Append(p PendingSend) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, it := range o.items {
		if it.ClientToken == p.ClientToken {
			return nil
		}
	}
	o.items = append(o.items, p)
	return nil
}

func (o *MemoryOutbox) List() ([]PendingSend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingSend, len(o.items))
	copy(out, o.items)
	return out, nil
}

func (o *MemoryOutbox) Remove(clientToken string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, it := range o.items {
		if it.ClientToken == clientToken {
			o.items = append(o.items[:i], o.items[i+1:]...)
			return nil
		}
	}
	return nil
}

var (
	outboxBucket = []byte("outbox")
	tokensBucket = []byte("outbox_tokens")
)

// BoltOutbox persists queued sends in a bbolt file so they survive a
// restart. Items are keyed by a big-endian sequence, so a cursor walk
// returns them in send order.
type BoltOutbox struct {
	db *bbolt.DB
}

// OpenBoltOutbox opens or creates the outbox file at path.
func OpenBoltOutbox(path string) (*BoltOutbox, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(outboxBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init outbox buckets: %w", err)
	}
	return &BoltOutbox{db: db}, nil
}

func (o *BoltOutbox) Append(p PendingSend) error {
	value, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return o.db.Update(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(tokensBucket)
		if tokens.Get([]byte(p.ClientToken)) != nil {
			return nil
		}
		items := tx.Bucket(outboxBucket)
		seq, err := items.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := items.Put(key, value); err != nil {
			return err
		}
		return tokens.Put([]byte(p.ClientToken), key)
	})
}

func (o *BoltOutbox) List() ([]PendingSend, error) {
	var out []PendingSend
	err := o.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(_, v []byte) error {
			var p PendingSend
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (o *BoltOutbox) Remove(clientToken string) error {
	return o.db.Update(func(tx *bbolt.Tx) error {
		tokens := tx.Bucket(tokensBucket)
		raw := tokens.Get([]byte(clientToken))
		if raw == nil {
			return nil
		}
		key := append([]byte(nil), raw...)
		if err := tx.Bucket(outboxBucket).Delete(key); err != nil {
			return err
		}
		return tokens.Delete([]byte(clientToken))
	})
}

// Close releases the outbox file.
func (o *BoltOutbox) Close() error {
	return o.db.Close()
}
