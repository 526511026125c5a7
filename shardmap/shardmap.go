// shardmap is a concurrent map from block number to block contents, split
// into shards so that writers to different blocks rarely contend. Blocks
// that were never stored read as zeros, so it can stand in for a large,
// mostly empty disk.
package shardmap

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-sfs/util"
)

type mapShard struct {
	mu    *sync.RWMutex
	state map[uint64]disk.Block
}

type BlockMap struct {
	shards []*mapShard
}

const NSHARD uint64 = 67

func mkMapShard() *mapShard {
	state := make(map[uint64]disk.Block)
	mu := new(sync.RWMutex)
	a := &mapShard{
		mu:    mu,
		state: state,
	}
	return a
}

func MkBlockMap() *BlockMap {
	shards := make([]*mapShard, 0, NSHARD)
	for i := uint64(0); i < NSHARD; i++ {
		shards = append(shards, mkMapShard())
	}
	a := &BlockMap{
		shards: shards,
	}
	return a
}

func (bmap *BlockMap) getShard(addr uint64) *mapShard {
	return bmap.shards[addr%NSHARD]
}

// ReadTo copies block addr into blk, which must be block-sized. It
// reports whether the block was ever written; if not, blk is zeroed.
func (bmap *BlockMap) ReadTo(addr uint64, blk disk.Block) bool {
	shard := bmap.getShard(addr)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	data, ok := shard.state[addr]
	if !ok {
		for i := range blk {
			blk[i] = 0
		}
		return false
	}
	copy(blk, data)
	return true
}

// Write stores a copy of blk as block addr.
func (bmap *BlockMap) Write(addr uint64, blk disk.Block) {
	data := util.CloneByteSlice(blk)
	shard := bmap.getShard(addr)
	shard.mu.Lock()
	shard.state[addr] = data
	shard.mu.Unlock()
}

// Len returns the number of blocks stored.
func (bmap *BlockMap) Len() uint64 {
	var n uint64
	for _, shard := range bmap.shards {
		shard.mu.RLock()
		n += uint64(len(shard.state))
		shard.mu.RUnlock()
	}
	return n
}
