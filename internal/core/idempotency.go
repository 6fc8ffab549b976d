package core

import (
	"PredictLedger/internal/errs"
	"PredictLedger/internal/observability"
	"container/list"
)

// DBIdempotencyChecker looks a command up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

// dedupKey is the composite "type:id" key. Command ids are only unique per
// command type, so a ClaimPayout and a CancelEvent may share one.
func dedupKey(commandType, idempotencyKey string) string {
	return commandType + ":" + idempotencyKey
}

// commandDedup answers "was this command already applied?" from a bounded
// LRU of recent keys, falling back to the event log for older ones. It is
// not safe for concurrent use; the Processor holds its lock around it.
type commandDedup struct {
	recent  *recentKeys
	db      DBIdempotencyChecker
	metrics *observability.Metrics
}

func newCommandDedup(capacity int, db DBIdempotencyChecker, metrics *observability.Metrics) *commandDedup {
	return &commandDedup{recent: newRecentKeys(capacity), db: db, metrics: metrics}
}

// Seen reports whether the command was applied before. A failed database
// lookup is an error, not a miss: the command could be a redelivered claim.
func (d *commandDedup) Seen(commandType, idempotencyKey string) (bool, error) {
	key := dedupKey(commandType, idempotencyKey)
	if d.recent.Touch(key) {
		d.count(commandType, "lru")
		return true, nil
	}
	if d.db == nil {
		return false, nil
	}

	dup, err := d.db.IsDuplicate(commandType, idempotencyKey)
	if err != nil {
		return false, errs.ErrDedupFailed.Wrap(err)
	}
	if dup {
		d.count(commandType, "postgres")
		d.recent.Add(key)
	}
	return dup, nil
}

// Applied records a command the engine accepted.
func (d *commandDedup) Applied(commandType, idempotencyKey string) {
	d.recent.Add(dedupKey(commandType, idempotencyKey))
}

func (d *commandDedup) count(commandType, tier string) {
	if d.metrics != nil {
		d.metrics.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

// recentKeys is a fixed-capacity LRU set of dedup keys.
type recentKeys struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front is most recent
	evictions int64
}

func newRecentKeys(capacity int) *recentKeys {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentKeys{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Touch reports whether key is present and marks it most recent.
func (r *recentKeys) Touch(key string) bool {
	elem, ok := r.index[key]
	if ok {
		r.order.MoveToFront(elem)
	}
	return ok
}

func (r *recentKeys) Add(key string) {
	if r.Touch(key) {
		return
	}
	r.index[key] = r.order.PushFront(key)
	for r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(string))
		r.evictions++
	}
}

// Warm adds keys oldest first, so the last key ends up most recent.
func (r *recentKeys) Warm(keys []string) {
	for _, key := range keys {
		r.Add(key)
	}
}

// Keys returns the keys from least to most recently used; Warm(Keys())
// rebuilds the same order.
func (r *recentKeys) Keys() []string {
	keys := make([]string, 0, r.order.Len())
	for elem := r.order.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

func (r *recentKeys) Len() int {
	return r.order.Len()
}
