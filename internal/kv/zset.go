package kv

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

// ZMember is one entry in a sorted set: a JSON-encoded member plus its score.
type ZMember struct {
	Member string
	Score  float64
}

// zsetBucketKey returns the per-set bucket name inside bucketZSets.
func zsetBucketKey(name string) []byte { return []byte("z:" + name) }

// ZAdd inserts or updates member with the given score in the named sorted
// set (e.g. "fibonacci-priority", "validated", "drop_alerts:BTCUSDT").
func (s *Store) ZAdd(set, member string, score float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketZSets).CreateBucketIfNotExists(zsetBucketKey(set))
		if err != nil {
			return err
		}
		return b.Put([]byte(member), encodeScore(score))
	})
}

// ZRem removes member from the named sorted set.
func (s *Store) ZRem(set, member string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketZSets).Bucket(zsetBucketKey(set))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(member))
	})
}

// ZCard returns the number of members in the named sorted set.
func (s *Store) ZCard(set string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketZSets).Bucket(zsetBucketKey(set))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// ZPopMinN removes and returns up to n members with the lowest score (the
// oldest-inserted, under insertion-time scoring). Used by the priority
// queue's drain.
func (s *Store) ZPopMinN(set string, n int) ([]ZMember, error) {
	var popped []ZMember
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketZSets).Bucket(zsetBucketKey(set))
		if b == nil {
			return nil
		}
		all, err := readAllSorted(b)
		if err != nil {
			return err
		}
		if n > len(all) {
			n = len(all)
		}
		for i := 0; i < n; i++ {
			popped = append(popped, all[i])
			if err := b.Delete([]byte(all[i].Member)); err != nil {
				return err
			}
		}
		return nil
	})
	return popped, err
}

// ZRangeCapped trims the named set down to maxSize by score (keeping the
// highest-scored/most-recent entries), used for the 100-entry capped
// drop_alerts history.
func (s *Store) ZRangeCapped(set string, maxSize int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketZSets).Bucket(zsetBucketKey(set))
		if b == nil {
			return nil
		}
		all, err := readAllSorted(b)
		if err != nil {
			return err
		}
		if len(all) <= maxSize {
			return nil
		}
		toDrop := all[:len(all)-maxSize]
		for _, m := range toDrop {
			if err := b.Delete([]byte(m.Member)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ZAll returns every member of the named set in ascending score order.
func (s *Store) ZAll(set string) ([]ZMember, error) {
	var all []ZMember
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketZSets).Bucket(zsetBucketKey(set))
		if b == nil {
			return nil
		}
		var err error
		all, err = readAllSorted(b)
		return err
	})
	return all, err
}

func readAllSorted(b *bbolt.Bucket) ([]ZMember, error) {
	var all []ZMember
	err := b.ForEach(func(k, v []byte) error {
		score, err := decodeScore(v)
		if err != nil {
			return err
		}
		all = append(all, ZMember{Member: string(k), Score: score})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score < all[j].Score })
	return all, nil
}

func encodeScore(score float64) []byte {
	b, _ := json.Marshal(score)
	return b
}

func decodeScore(b []byte) (float64, error) {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return 0, fmt.Errorf("kv: decode score: %w", err)
	}
	return f, nil
}
