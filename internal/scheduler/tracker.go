package scheduler

import (
	"sync"

	"github.com/google/uuid"

	"github.com/angelmondragon/mediapipe/pkg/enums"
)

// failureTracker counts consecutive alerting failures per item and
// quarantines items that reach the threshold for the process lifetime.
type failureTracker struct {
	mu          sync.Mutex
	threshold   int
	counts      map[uuid.UUID]int
	quarantined map[enums.Class]map[uuid.UUID]struct{}
}

func newFailureTracker(threshold int) *failureTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &failureTracker{
		threshold:   threshold,
		counts:      make(map[uuid.UUID]int),
		quarantined: make(map[enums.Class]map[uuid.UUID]struct{}),
	}
}

// record counts a failure and reports whether it moved the item into quarantine.
func (t *failureTracker) record(class enums.Class, id uuid.UUID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.quarantined[class][id]; ok {
		return t.counts[id], false
	}
	t.counts[id]++
	n := t.counts[id]
	if n < t.threshold {
		return n, false
	}
	if t.quarantined[class] == nil {
		t.quarantined[class] = make(map[uuid.UUID]struct{})
	}
	t.quarantined[class][id] = struct{}{}
	return n, true
}

func (t *failureTracker) clear(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, id)
}

func (t *failureTracker) excluded(class enums.Class) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.quarantined[class]
	if len(set) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
