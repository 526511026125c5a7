// lockmap is a sharded lock map, used for per-inode locks.
//
// The API is as if LockMap consisted of a lock for every possible uint64
// (here, inode numbers); LockMap.Acquire(a) acquires the lock associated
// with a and LockMap.Release(a) releases it.
//
// The implementation doesn't actually maintain all of these locks; it
// instead maintains a fixed collection of shards so that shard i is
// responsible for maintaining the lock state of all a such that a % NSHARD = i.
// A lock's state exists only while it is held or awaited, so a lock is
// destroyed when its last holder releases it.
package lockmap

import (
	"sync"
)

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[uint64]*lockState
}

func mkLockShard() *lockShard {
	mu := new(sync.Mutex)
	return &lockShard{
		mu:    mu,
		state: make(map[uint64]*lockState),
	}
}

func (shard *lockShard) acquire(addr uint64) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[addr]
	if !ok {
		state = &lockState{cond: sync.NewCond(shard.mu)}
		shard.state[addr] = state
	}
	for state.held {
		state.waiters += 1
		state.cond.Wait()
		state.waiters -= 1
	}
	state.held = true
}

func (shard *lockShard) release(addr uint64) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[addr]
	if !ok || !state.held {
		panic("lockmap: release of unheld lock")
	}
	state.held = false
	if state.waiters > 0 {
		state.cond.Signal()
	} else {
		delete(shard.state, addr)
	}
}

func (shard *lockShard) isHeld(addr uint64) bool {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	state, ok := shard.state[addr]
	return ok && state.held
}

const NSHARD uint64 = 43

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, 0, NSHARD)
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkLockShard())
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(flataddr uint64) {
	lmap.shards[flataddr%NSHARD].acquire(flataddr)
}

func (lmap *LockMap) Release(flataddr uint64) {
	lmap.shards[flataddr%NSHARD].release(flataddr)
}

// Held reports whether some thread holds the lock for flataddr. It cannot
// tell which thread, so it is only useful for assertions.
func (lmap *LockMap) Held(flataddr uint64) bool {
	return lmap.shards[flataddr%NSHARD].isHeld(flataddr)
}
