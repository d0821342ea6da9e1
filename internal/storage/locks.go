package storage

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyLocks serializes operations on the same key without a global lock.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLocks) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.stripes[h.Sum32()%lockStripes]
}

// lockAll takes every stripe in a fixed order and returns the matching unlock.
func (k *keyLocks) lockAll() func() {
	for i := range k.stripes {
		k.stripes[i].Lock()
	}
	return func() {
		for i := len(k.stripes) - 1; i >= 0; i-- {
			k.stripes[i].Unlock()
		}
	}
}
