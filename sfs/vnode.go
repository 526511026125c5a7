package sfs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/util"
)

// Vnode is the unique in-memory representative of a loaded inode. Callers
// receive a counted reference from GetRoot, Lookup, Create and friends and
// give it back with Decref.
type Vnode struct {
	fs   *FS
	inum common.Inum
	typ  common.Type // fixed once the vnode is loaded

	// protected by the vnode lock
	ip    *inode
	dirty bool // ip differs from disk

	countMu  *sync.Mutex // protects refcount
	refcount uint64
}

func (vn *Vnode) Inum() common.Inum {
	return vn.inum
}

func (vn *Vnode) Type() common.Type {
	return vn.typ
}

func (vn *Vnode) lock() {
	vn.fs.locks.Acquire(uint64(vn.inum))
}

func (vn *Vnode) unlock() {
	vn.fs.locks.Release(uint64(vn.inum))
}

func (vn *Vnode) assertLocked() {
	if !vn.fs.locks.Held(uint64(vn.inum)) {
		panic(fmt.Sprintf("sfs: vnode %d not locked", vn.inum))
	}
}

// Write the inode back out to disk if it is dirty.
// Locking: must hold vnode lock.
func (vn *Vnode) syncInode() error {
	vn.assertLocked()
	if !vn.dirty {
		return nil
	}
	if err := vn.fs.d.Write(uint64(vn.inum), vn.ip.encode()); err != nil {
		return fmt.Errorf("writing inode %d: %w", vn.inum, err)
	}
	vn.dirty = false
	return nil
}

// Incref takes another reference to vn. The caller must already hold one.
func (vn *Vnode) Incref() {
	vn.countMu.Lock()
	defer vn.countMu.Unlock()
	if vn.refcount == 0 {
		common.Corrupt("incref of reclaimed vnode %d", vn.inum)
	}
	vn.refcount++
}

// Decref gives back a reference. Dropping the last one reclaims the vnode:
// its inode is written back, and if no directory links to it any more its
// blocks and inode are freed. If Decref returns an error the reference is
// still held.
func (vn *Vnode) Decref() error {
	vn.countMu.Lock()
	if vn.refcount == 0 {
		vn.countMu.Unlock()
		common.Corrupt("decref of reclaimed vnode %d", vn.inum)
	}
	if vn.refcount > 1 {
		vn.refcount--
		vn.countMu.Unlock()
		return nil
	}
	vn.countMu.Unlock()

	err := vn.fs.reclaim(vn)
	if errors.Is(err, common.ErrBusy) {
		util.DPrintf(5, "reclaim %d: lost race, still in use\n", vn.inum)
		return nil
	}
	return err
}

// reclaim tears down vn if the caller's reference is still the only one.
// Someone may have picked the vnode up from the table since Decref saw a
// count of 1, so the count is checked again with the table locked, which
// is also what loadvnode holds while taking a reference. If that race was
// lost, reclaim consumes the caller's reference and returns ErrBusy.
//
// Locking: gets vnode lock, then vnode table lock, and possibly the bitmap
// lock while holding both.
func (fs *FS) reclaim(vn *Vnode) error {
	vn.lock()
	defer vn.unlock()
	fs.vnlock.Lock()
	defer fs.vnlock.Unlock()

	vn.countMu.Lock()
	if vn.refcount != 1 {
		if vn.refcount == 0 {
			vn.countMu.Unlock()
			common.Corrupt("reclaim of already reclaimed vnode %d", vn.inum)
		}
		vn.refcount--
		vn.countMu.Unlock()
		return common.ErrBusy
	}
	vn.countMu.Unlock()

	// If there are no on-disk references to the file either, erase it.
	if vn.ip.LinkCount == 0 {
		if err := vn.dotruncate(0); err != nil {
			return err
		}
	}
	if err := vn.syncInode(); err != nil {
		return err
	}

	// Freeing the inode and leaving the table happen under the same table
	// lock, so loadvnode cannot find vn after its block is reallocated.
	if vn.ip.LinkCount == 0 {
		fs.bfree(common.Bnum(vn.inum))
	}
	if fs.vnodes[vn.inum] != vn {
		common.Corrupt("reclaim: vnode %d not in vnode table", vn.inum)
	}
	delete(fs.vnodes, vn.inum)

	vn.countMu.Lock()
	vn.refcount = 0
	vn.countMu.Unlock()
	util.DPrintf(5, "reclaim %d: done (links %d)\n", vn.inum, vn.ip.LinkCount)
	return nil
}

// loadvnode returns a new reference to the vnode for ino, reading the
// inode from disk if it is not resident. forcetype is TypeInvalid except
// when ino was just allocated, in which case its zeroed block is stamped
// with forcetype.
//
// Locking: gets/releases vnode table lock, and the bitmap lock under it.
func (fs *FS) loadvnode(ino common.Inum, forcetype common.Type) (*Vnode, error) {
	fs.vnlock.Lock()
	defer fs.vnlock.Unlock()

	// Every inode in memory must be in an allocated block
	if !fs.bused(common.Bnum(ino)) {
		common.Corrupt("loadvnode: inode %d in unallocated block", ino)
	}

	if vn, ok := fs.vnodes[ino]; ok {
		if forcetype != common.TypeInvalid {
			common.Corrupt("loadvnode: new object %d already resident", ino)
		}
		vn.Incref()
		return vn, nil
	}

	blk, err := fs.d.Read(uint64(ino))
	if err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", ino, err)
	}
	ip := decodeInode(blk)
	dirty := false
	if forcetype != common.TypeInvalid {
		if ip.Type != common.TypeInvalid {
			common.Corrupt("loadvnode: new object %d has type %v", ino, ip.Type)
		}
		ip.Type = forcetype
		dirty = true
	}
	if ip.Type != common.TypeFile && ip.Type != common.TypeDir {
		common.Corrupt("loadvnode: invalid inode type (inode %d, type %d)", ino, ip.Type)
	}

	vn := &Vnode{
		fs:       fs,
		inum:     ino,
		typ:      ip.Type,
		ip:       ip,
		dirty:    dirty,
		countMu:  new(sync.Mutex),
		refcount: 1,
	}
	fs.vnodes[ino] = vn
	util.DPrintf(10, "loadvnode: %d (%v)\n", ino, ip.Type)
	return vn, nil
}

// makeobj creates a new object of type typ. Each inode is a block, and the
// inode number is the block number.
//
// Locking: gets/releases the bitmap lock and the vnode table lock, not
// together. The new vnode is not locked.
func (fs *FS) makeobj(typ common.Type) (*Vnode, error) {
	ino, err := fs.balloc()
	if err != nil {
		return nil, err
	}
	vn, err := fs.loadvnode(common.Inum(ino), typ)
	if err != nil {
		fs.bfree(ino)
		return nil, err
	}
	return vn, nil
}

// refs reports the current reference count, for tests.
func (vn *Vnode) refs() uint64 {
	vn.countMu.Lock()
	defer vn.countMu.Unlock()
	return vn.refcount
}
