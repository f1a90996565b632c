package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"tsubuyaki/internal/metrics"
	"tsubuyaki/internal/model"
)

// Pebble stores messages in a PebbleDB key-value store.
// Keys are 8-byte big-endian message ids, so iteration order is id order.
type Pebble struct {
	db   *pebble.DB
	mu   sync.Mutex
	next int64
}

// record is the stored value; DeletedAt is not part of the wire format
type record struct {
	model.Message
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// OpenPebble opens (or creates) a store at dir. opts may be nil.
func OpenPebble(dir string, opts *pebble.Options) (*Pebble, error) {
	if opts == nil {
		opts = &pebble.Options{}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}

	p := &Pebble{db: db, next: 1}
	// Discover next id by reading the last key.
	it, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer func() { _ = it.Close() }()
	if it.Last() && len(it.Key()) == 8 {
		p.next = int64(binary.BigEndian.Uint64(it.Key())) + 1
	}
	return p, nil
}

func pebbleKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func (p *Pebble) get(id int64) (record, error) {
	val, closer, err := p.db.Get(pebbleKey(id))
	if err == pebble.ErrNotFound {
		return record{}, ErrNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("get message %d: %w", id, err)
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return record{}, fmt.Errorf("decode message %d: %w", id, err)
	}
	if rec.DeletedAt != nil {
		return record{}, ErrNotFound
	}
	return rec, nil
}

func (p *Pebble) put(rec record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.db.Set(pebbleKey(rec.ID), val, pebble.Sync)
}

// All returns live messages in id order
func (p *Pebble) All(ctx context.Context) ([]model.Message, error) {
	defer metrics.ObserveStore("all", time.Now())

	it, err := p.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	msgs := []model.Message{}
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		if rec.DeletedAt == nil {
			msgs = append(msgs, rec.Message)
		}
	}
	return msgs, nil
}

// ByID returns a live message
func (p *Pebble) ByID(ctx context.Context, id int64) (model.Message, error) {
	defer metrics.ObserveStore("by_id", time.Now())

	rec, err := p.get(id)
	if err != nil {
		return model.Message{}, err
	}
	return rec.Message, nil
}

// Insert stores m under the next id
func (p *Pebble) Insert(ctx context.Context, m model.Message) (model.Message, error) {
	defer metrics.ObserveStore("insert", time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	m.ID = p.next
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.DeletedAt = nil
	if err := p.put(record{Message: m}); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	p.next++
	return m, nil
}

// Update replaces body and username of a live message
func (p *Pebble) Update(ctx context.Context, m model.Message) (model.Message, error) {
	defer metrics.ObserveStore("update", time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.get(m.ID)
	if err != nil {
		return model.Message{}, err
	}
	rec.Body = m.Body
	rec.Username = m.Username
	if err := p.put(rec); err != nil {
		return model.Message{}, fmt.Errorf("update message %d: %w", m.ID, err)
	}
	return rec.Message, nil
}

// Delete soft-deletes id
func (p *Pebble) Delete(ctx context.Context, id int64) error {
	defer metrics.ObserveStore("delete", time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.get(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.DeletedAt = &now
	if err := p.put(rec); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// Close closes the database
func (p *Pebble) Close() error {
	return p.db.Close()
}
