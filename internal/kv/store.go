// Package kv is the Redis-shaped abstraction over a durable, namespaced
// key/value + sorted-set store used for transient state: prices, queue
// items, the position cache and market-condition snapshots. It is backed by
// go.etcd.io/bbolt (grounded on bitunixbot's internal/storage package) with
// a background sweep goroutine expiring keys past their TTL, since bbolt
// itself has no native expiry.
package kv

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"scalpguard/internal/clock"
)

var (
	bucketValues = []byte("kv_values")
	bucketExpiry = []byte("kv_expiry")
	bucketZSets  = []byte("kv_zsets")
)

// Store is a namespaced key/value + sorted-set store with TTL support.
type Store struct {
	db    *bbolt.DB
	clock clock.Clock

	mu        sync.Mutex
	stopSweep chan struct{}
	sweepWg   sync.WaitGroup
}

// Open creates (or reopens) a bbolt-backed KVStore at path.
func Open(path string, cl clock.Clock) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketValues, bucketExpiry, bucketZSets} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("kv: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	if cl == nil {
		cl = clock.Real{}
	}
	s := &Store{db: db, clock: cl, stopSweep: make(chan struct{})}
	s.startSweeper(10 * time.Second)
	return s, nil
}

// Close stops the sweeper and closes the underlying database.
func (s *Store) Close() error {
	close(s.stopSweep)
	s.sweepWg.Wait()
	return s.db.Close()
}

// Set stores value (JSON-encoded) under key with an optional TTL (0 = no
// expiry).
func (s *Store) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketValues).Put([]byte(key), data); err != nil {
			return err
		}
		eb := tx.Bucket(bucketExpiry)
		if ttl > 0 {
			deadline := s.clock.Now().Add(ttl)
			return eb.Put([]byte(key), []byte(deadline.Format(time.RFC3339Nano)))
		}
		return eb.Delete([]byte(key))
	})
}

// Get decodes the value stored under key into dst. Returns ok=false if the
// key is absent or expired.
func (s *Store) Get(key string, dst interface{}) (ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		if s.isExpiredTx(tx, key) {
			return nil
		}
		data := tx.Bucket(bucketValues).Get([]byte(key))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, dst)
	})
	return ok, err
}

// Delete removes key unconditionally.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketValues).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketExpiry).Delete([]byte(key))
	})
}

func (s *Store) isExpiredTx(tx *bbolt.Tx, key string) bool {
	raw := tx.Bucket(bucketExpiry).Get([]byte(key))
	if raw == nil {
		return false
	}
	deadline, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return false
	}
	return !s.clock.Now().Before(deadline)
}

func (s *Store) startSweeper(interval time.Duration) {
	s.sweepWg.Add(1)
	go func() {
		defer s.sweepWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepExpired()
			case <-s.stopSweep:
				return
			}
		}
	}()
}

func (s *Store) sweepExpired() {
	now := s.clock.Now()
	var expiredKeys [][]byte
	_ = s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketExpiry).ForEach(func(k, v []byte) error {
			deadline, err := time.Parse(time.RFC3339Nano, string(v))
			if err == nil && !now.Before(deadline) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if len(expiredKeys) == 0 {
		return
	}
	_ = s.db.Update(func(tx *bbolt.Tx) error {
		vb := tx.Bucket(bucketValues)
		eb := tx.Bucket(bucketExpiry)
		for _, k := range expiredKeys {
			_ = vb.Delete(k)
			_ = eb.Delete(k)
		}
		return nil
	})
}
