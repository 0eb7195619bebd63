package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

// Compile-time proof that BoltLog satisfies the Recorder interface.
var _ Recorder = (*BoltLog)(nil)

var bucketEvents = []byte("security_events")

// BoltLog is a bbolt-backed append-only event log. Keys are the bucket's
// monotonically increasing sequence number, so iteration order is insertion
// order. Safe for concurrent use.
type BoltLog struct {
	db     *bolt.DB
	mirror bool // also emit each event to the debug log
}

// Open opens (or creates) the event log at path. When mirror is true every
// recorded event is additionally written to the operational debug log.
func Open(path string, mirror bool) (*BoltLog, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("events: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("events: init bucket: %w", err)
	}
	return &BoltLog{db: db, mirror: mirror}, nil
}

// Record appends ev to the log. Failures are logged at warn and dropped;
// the caller's admission decision must not depend on the audit write.
func (l *BoltLog) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if l.mirror {
		log.Debug().
			Str("event", string(ev.Type)).
			Str("ip", ev.IP).
			Interface("extra", ev.Extra).
			Msg("security event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event encode failed")
		return
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event write failed")
	}
}

// Recent returns up to n events, newest first.
func (l *BoltLog) Recent(n int) ([]Event, error) {
	out := make([]Event, 0, n)
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue // skip corrupt records rather than failing the listing
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events: list: %w", err)
	}
	return out, nil
}

// Prune deletes events older than cutoff and reports how many were removed.
func (l *BoltLog) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil || ev.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("events: prune: %w", err)
	}
	return removed, nil
}

// DBPath returns the filesystem path of the database file.
func (l *BoltLog) DBPath() string { return l.db.Path() }

// Close cleanly closes the underlying bbolt database.
func (l *BoltLog) Close() error { return l.db.Close() }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
