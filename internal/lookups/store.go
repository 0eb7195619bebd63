// Package lookups persists completed valuation lookups for admin review.
package lookups

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/agenticpress/homevalue-gate/internal/attom"
)

var bucketLookups = []byte("lookups")

// Record is one completed lookup.
type Record struct {
	ID            uint64          `json:"id"`
	LookupTime    time.Time       `json:"lookup_time"`
	RequestIP     string          `json:"request_ip"`
	AttomID       int64           `json:"attom_id"`
	FullAddress   string          `json:"full_address"`
	Street        string          `json:"street"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	Zip           string          `json:"zip"`
	PropertyType  string          `json:"property_type,omitempty"`
	YearBuilt     int             `json:"year_built,omitempty"`
	Bedrooms      float64         `json:"bedrooms,omitempty"`
	Bathrooms     float64         `json:"bathrooms,omitempty"`
	AVMValue      int64           `json:"avm_value,omitempty"`
	AVMHigh       int64           `json:"avm_value_high,omitempty"`
	AVMLow        int64           `json:"avm_value_low,omitempty"`
	AVMConfidence int             `json:"avm_confidence_score,omitempty"`
	LastSaleDate  string          `json:"last_sale_date,omitempty"`
	LastSalePrice int64           `json:"last_sale_price,omitempty"`
	AISummary     string          `json:"ai_summary,omitempty"`
	RawJSON       json.RawMessage `json:"full_json,omitempty"`
}

// Store is a bbolt-backed lookup archive. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the lookup store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("lookups: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLookups)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lookups: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// NewRecord builds a Record from a property result.
func NewRecord(ip string, p *attom.Property, aiSummary string) Record {
	return Record{
		LookupTime:    time.Now().UTC(),
		RequestIP:     ip,
		AttomID:       p.AttomID,
		FullAddress:   p.OneLineAddress,
		Street:        p.Street,
		City:          p.City,
		State:         p.State,
		Zip:           p.Zip,
		PropertyType:  p.PropertyType,
		YearBuilt:     p.YearBuilt,
		Bedrooms:      p.Bedrooms,
		Bathrooms:     p.Bathrooms,
		AVMValue:      p.AVMValue,
		AVMHigh:       p.AVMHigh,
		AVMLow:        p.AVMLow,
		AVMConfidence: p.AVMConfidence,
		LastSaleDate:  p.LastSaleDate,
		LastSalePrice: p.LastSalePrice,
		AISummary:     aiSummary,
		RawJSON:       json.RawMessage(p.RawJSON),
	}
}

// Insert appends rec and returns its assigned id.
func (s *Store) Insert(rec Record) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLookups)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = seq
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		id = seq
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("lookups: insert: %w", err)
	}
	return id, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	out := make([]Record, 0, n)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLookups).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookups: list: %w", err)
	}
	return out, nil
}

// Close cleanly closes the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
