package orchestrator

import (
	"container/heap"
	"sync"
	"time"

	"hpo-orchestrator/core/tracker"
)

// SubmissionQueue orders (candidate, fold) pairs awaiting submission.
// Pairs become eligible once their ready time has passed, which keeps
// retry backoff from starving fresh submissions.
type SubmissionQueue struct {
	pairs  []*queuedPair
	member map[tracker.PairKey]bool
	mu     sync.Mutex
}

// queuedPair wraps a pair with its eligibility time.
type queuedPair struct {
	Key     tracker.PairKey
	ReadyAt time.Time
	Index   int // For heap.Interface
}

// NewSubmissionQueue creates an empty submission queue.
func NewSubmissionQueue() *SubmissionQueue {
	q := &SubmissionQueue{
		pairs:  make([]*queuedPair, 0),
		member: make(map[tracker.PairKey]bool),
	}
	heap.Init(q)
	return q
}

// Enqueue adds a pair that becomes eligible at readyAt. A pair already
// queued is left in place.
func (q *SubmissionQueue) Enqueue(key tracker.PairKey, readyAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.member[key] {
		return
	}
	q.member[key] = true
	heap.Push(q, &queuedPair{Key: key, ReadyAt: readyAt})
}

// PopReady removes and returns the earliest pair whose ready time has
// passed. The second return is false when no pair is eligible yet.
func (q *SubmissionQueue) PopReady(now time.Time) (tracker.PairKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Len() == 0 || q.pairs[0].ReadyAt.After(now) {
		return tracker.PairKey{}, false
	}

	item := heap.Pop(q).(*queuedPair)
	delete(q.member, item.Key)
	return item.Key, true
}

// Drain removes and returns every queued pair regardless of eligibility.
func (q *SubmissionQueue) Drain() []tracker.PairKey {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]tracker.PairKey, 0, q.Len())
	for q.Len() > 0 {
		item := heap.Pop(q).(*queuedPair)
		delete(q.member, item.Key)
		keys = append(keys, item.Key)
	}
	return keys
}

// Len returns the number of queued pairs.
func (q *SubmissionQueue) Len() int {
	return len(q.pairs)
}

// Less orders pairs by ready time, then candidate, then fold.
func (q *SubmissionQueue) Less(i, j int) bool {
	if !q.pairs[i].ReadyAt.Equal(q.pairs[j].ReadyAt) {
		return q.pairs[i].ReadyAt.Before(q.pairs[j].ReadyAt)
	}
	if q.pairs[i].Key.Candidate != q.pairs[j].Key.Candidate {
		return q.pairs[i].Key.Candidate < q.pairs[j].Key.Candidate
	}
	return q.pairs[i].Key.Fold < q.pairs[j].Key.Fold
}

// Swap swaps two pairs.
func (q *SubmissionQueue) Swap(i, j int) {
	q.pairs[i], q.pairs[j] = q.pairs[j], q.pairs[i]
	q.pairs[i].Index = i
	q.pairs[j].Index = j
}

// Push implements heap.Interface.
func (q *SubmissionQueue) Push(x interface{}) {
	n := len(q.pairs)
	item := x.(*queuedPair)
	item.Index = n
	q.pairs = append(q.pairs, item)
}

// Pop implements heap.Interface.
func (q *SubmissionQueue) Pop() interface{} {
	old := q.pairs
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	q.pairs = old[0 : n-1]
	return item
}
