// Package queue implements the PriorityQueue: two sorted sets backed by
// kv.Store, "fibonacci-priority" and "validated", scored by insertion time.
// Draining applies a ceil(N/2) bias toward the priority set so fibonacci
// scalping signals are never head-of-line-blocked by bulk signals.
package queue

import (
	"encoding/json"
	"fmt"
	"math"

	"scalpguard/internal/clock"
	"scalpguard/internal/domain"
	"scalpguard/internal/kv"
)

const (
	SetFibonacciPriority = "fibonacci-priority"
	SetValidated         = "validated"
)

// Queue is the PriorityQueue.
type Queue struct {
	kv    *kv.Store
	clock clock.Clock
}

func New(store *kv.Store, cl clock.Clock) *Queue {
	return &Queue{kv: store, clock: cl}
}

// Enqueue routes sig to the priority set when its category is
// fibonacci-scalping, otherwise to the standard set.
func (q *Queue) Enqueue(sig domain.ValidatedSignal) error {
	set := SetValidated
	if sig.Category == domain.CategoryFibonacciScalping {
		set = SetFibonacciPriority
	}
	member, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("queue: marshal signal %s: %w", sig.SignalID, err)
	}
	score := float64(q.clock.Now().UnixNano())
	return q.kv.ZAdd(set, string(member), score)
}

// Len reports the combined depth of both sets.
func (q *Queue) Len() (int, error) {
	p, err := q.kv.ZCard(SetFibonacciPriority)
	if err != nil {
		return 0, err
	}
	v, err := q.kv.ZCard(SetValidated)
	if err != nil {
		return 0, err
	}
	return p + v, nil
}

// Drain pops up to n signals: ceil(n/2) from the priority set first, then
// fills remaining capacity from the standard set. Priority-set shortfall
// (fewer items available than its share) is backfilled from the standard
// set so a batch never returns short purely because priority was thin.
func (q *Queue) Drain(n int) ([]domain.ValidatedSignal, error) {
	if n <= 0 {
		return nil, nil
	}
	priorityShare := int(math.Ceil(float64(n) / 2))

	priority, err := q.kv.ZPopMinN(SetFibonacciPriority, priorityShare)
	if err != nil {
		return nil, fmt.Errorf("queue: drain priority: %w", err)
	}
	remaining := n - len(priority)
	var standard []kv.ZMember
	if remaining > 0 {
		standard, err = q.kv.ZPopMinN(SetValidated, remaining)
		if err != nil {
			return nil, fmt.Errorf("queue: drain validated: %w", err)
		}
	}

	out := make([]domain.ValidatedSignal, 0, len(priority)+len(standard))
	for _, members := range [][]kv.ZMember{priority, standard} {
		for _, m := range members {
			var sig domain.ValidatedSignal
			if err := json.Unmarshal([]byte(m.Member), &sig); err != nil {
				return nil, fmt.Errorf("queue: decode signal: %w", err)
			}
			out = append(out, sig)
		}
	}
	return out, nil
}
