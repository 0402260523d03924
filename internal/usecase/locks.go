package usecase

import (
	"hash/fnv"
	"sync"
)

// entityLocks serializes read-modify-write cycles per entity using a fixed
// set of striped mutexes.
type entityLocks struct {
	stripes []sync.Mutex
}

func newEntityLocks(n int) *entityLocks {
	if n <= 0 {
		n = 256
	}
	return &entityLocks{stripes: make([]sync.Mutex, n)}
}

func (l *entityLocks) lock(entityID string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
