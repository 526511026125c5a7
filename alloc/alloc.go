package alloc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mit-pdos/go-sfs/addr"
	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

// Alloc uses a bit map to allocate and free numbers. Bit n corresponds to
// number n; number 0 is never handed out, since 0 is the null block
// pointer.
//
// The bitmap mirrors len(bitmap)/BlockSize on-disk blocks starting at
// start. Blocks containing bits modified since the last Flush are dirty.
type Alloc struct {
	lock   *sync.Mutex // protects next, bitmap and dirty
	start  common.Bnum
	max    uint64 // numbers >= max are out of range
	next   uint64 // first number to try
	bitmap []byte
	dirty  map[common.Bnum]bool
}

// MkAlloc takes ownership of bitmap, which was read from the on-disk
// blocks beginning at start.
func MkAlloc(start common.Bnum, bitmap []byte, max uint64) *Alloc {
	if uint64(len(bitmap))%disk.BlockSize != 0 {
		panic("MkAlloc: bitmap is not block-sized")
	}
	if max > uint64(len(bitmap))*8 {
		panic("MkAlloc: max exceeds bitmap")
	}
	a := &Alloc{
		lock:   new(sync.Mutex),
		start:  start,
		max:    max,
		next:   0,
		bitmap: bitmap,
		dirty:  make(map[common.Bnum]bool),
	}
	return a
}

// MkMaxAlloc returns an allocator for [1, max) with everything free.
func MkMaxAlloc(max uint64) *Alloc {
	if max == 0 {
		panic("MkMaxAlloc: invalid max, must be positive")
	}
	nblk := util.RoundUp(max, common.NBITBLOCK)
	a := MkAlloc(0, make([]byte, nblk*disk.BlockSize), max)
	a.MarkUsed(0)
	a.dirty = make(map[common.Bnum]bool)
	return a
}

func (a *Alloc) checkRange(op string, n uint64) {
	if n >= a.max {
		common.Corrupt("%s: number %d out of range (max %d)", op, n, a.max)
	}
}

func (a *Alloc) isSet(n uint64) bool {
	return a.bitmap[n/8]&(1<<(n%8)) != 0
}

// set or clear bit n, recording its bitmap block as dirty
func (a *Alloc) flip(n uint64, used bool) {
	ad := addr.MkBitAddr(a.start, n)
	i := (ad.Blkno-a.start)*disk.BlockSize + ad.Byte()
	if used {
		a.bitmap[i] |= ad.Mask()
	} else {
		a.bitmap[i] &= ^ad.Mask()
	}
	a.dirty[ad.Blkno] = true
}

func (a *Alloc) incNext() uint64 {
	a.next = a.next + 1
	if a.next >= a.max {
		a.next = 0
	}
	return a.next
}

// MarkUsed sets bit n without regard for its previous value.
func (a *Alloc) MarkUsed(n uint64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.checkRange("MarkUsed", n)
	a.flip(n, true)
}

// AllocNum returns a fresh number, or 0 if every number is in use.
func (a *Alloc) AllocNum() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	start := a.next
	num := start
	for {
		if num != 0 && !a.isSet(num) {
			a.flip(num, true)
			a.next = num
			util.DPrintf(10, "AllocNum: %d\n", num)
			return num
		}
		num = a.incNext()
		if num == start {
			return 0
		}
	}
}

// FreeNum releases num. Freeing a number that is not in use means two
// owners believed they held it.
func (a *Alloc) FreeNum(num uint64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if num == 0 {
		common.Corrupt("FreeNum: freeing reserved number 0")
	}
	a.checkRange("FreeNum", num)
	if !a.isSet(num) {
		common.Corrupt("FreeNum: double free of %d", num)
	}
	a.flip(num, false)
	util.DPrintf(10, "FreeNum: %d\n", num)
}

func (a *Alloc) IsUsed(num uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.checkRange("IsUsed", num)
	return a.isSet(num)
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	var used uint64
	for _, b := range a.bitmap[:a.max/8] {
		used += popCnt(b)
	}
	for n := a.max / 8 * 8; n < a.max; n++ {
		if a.isSet(n) {
			used++
		}
	}
	return a.max - used
}

// IsDirty reports whether the bitmap changed since the last Flush.
func (a *Alloc) IsDirty() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.dirty) > 0
}

// Flush writes the dirty bitmap blocks to d. A block stays dirty if its
// write fails.
func (a *Alloc) Flush(d disk.Disk) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	blknos := make([]common.Bnum, 0, len(a.dirty))
	for blkno := range a.dirty {
		blknos = append(blknos, blkno)
	}
	sort.Slice(blknos, func(i, j int) bool { return blknos[i] < blknos[j] })
	for _, blkno := range blknos {
		i := blkno - a.start
		blk := a.bitmap[i*disk.BlockSize : (i+1)*disk.BlockSize]
		if err := d.Write(blkno, blk); err != nil {
			return fmt.Errorf("flushing bitmap block %d: %w", blkno, err)
		}
		delete(a.dirty, blkno)
	}
	return nil
}
