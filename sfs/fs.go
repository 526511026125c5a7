// Package sfs is a simple block filesystem: files and directories made of
// whole blocks of a disk.Disk, with one inode per block, direct and single
// indirect block pointers, fixed-size directory records, and an in-memory
// table of reference-counted vnodes.
//
// Locking protocol:
//
//	The following locks exist:
//	   vnode locks (one per inode number, in FS.locks)
//	   vnode table lock (FS.vnlock)
//	   bitmap lock (inside FS.bitmap)
//	   vnode count locks (Vnode.countMu), innermost
//
//	Ordering constraints:
//	   vnode locks       before  vnode table lock
//	   vnode table lock  before  bitmap lock
//
//	Ordering among vnode locks:
//	   directory lock    before  lock of a file within the directory
//
//	Ordering among directory locks:
//	   Parent first, then child.
package sfs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-sfs/alloc"
	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/lockmap"
	"github.com/mit-pdos/go-sfs/super"
	"github.com/mit-pdos/go-sfs/util"
)

// FS is one mounted filesystem instance. All shared state lives here.
type FS struct {
	d      disk.Disk
	super  *super.FsSuper
	bitmap *alloc.Alloc
	locks  *lockmap.LockMap // vnode locks, by inode number

	vnlock *sync.Mutex // protects vnodes
	vnodes map[common.Inum]*Vnode
}

// Mkfs writes an empty filesystem, whose root directory holds only "."
// and "..", over all of d.
func Mkfs(d disk.Disk, id uuid.UUID) error {
	nblocks, err := d.Size()
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	if nblocks < super.MINBLOCKS {
		return fmt.Errorf("mkfs: %d blocks is too small: %w", nblocks, common.ErrInvalid)
	}
	sb := super.MkFsSuper(nblocks, id)
	util.DPrintf(1, "mkfs: %d blocks, %d bitmap blocks, volume %v\n",
		nblocks, sb.NBitmap(), id)

	for i := uint64(0); i < sb.NBitmap(); i++ {
		if err := d.Write(sb.BitmapStart()+i, make(disk.Block, disk.BlockSize)); err != nil {
			return fmt.Errorf("mkfs: clearing bitmap: %w", err)
		}
	}
	bitmap := alloc.MkAlloc(sb.BitmapStart(), make([]byte, sb.NBitmap()*disk.BlockSize), nblocks)
	for bn := uint64(0); bn < sb.DataStart(); bn++ {
		bitmap.MarkUsed(bn)
	}
	if err := bitmap.Flush(d); err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}

	root := &inode{Type: common.TypeDir, LinkCount: 1}
	if err := d.Write(uint64(sb.RootInum()), root.encode()); err != nil {
		return fmt.Errorf("mkfs: writing root inode: %w", err)
	}
	if err := d.Write(common.SUPERBLOCK, sb.Encode()); err != nil {
		return fmt.Errorf("mkfs: writing superblock: %w", err)
	}

	fs, err := Mount(d)
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	rv, err := fs.GetRoot()
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	rv.lock()
	_, err = rv.dirLink(".", rv.inum)
	if err == nil {
		_, err = rv.dirLink("..", rv.inum)
	}
	rv.unlock()
	if err != nil {
		return fmt.Errorf("mkfs: populating root: %w", err)
	}
	if err := rv.Decref(); err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	return fs.Unmount()
}

// Mount loads the superblock and free-space bitmap from d.
func Mount(d disk.Disk) (*FS, error) {
	blk, err := d.Read(common.SUPERBLOCK)
	if err != nil {
		return nil, fmt.Errorf("mount: reading superblock: %w", err)
	}
	sb, err := super.Decode(blk)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	size, err := d.Size()
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	if sb.NBlocks > size {
		return nil, fmt.Errorf("mount: filesystem has %d blocks, disk only %d: %w",
			sb.NBlocks, size, common.ErrInvalid)
	}

	bitmap := make([]byte, 0, sb.NBitmap()*disk.BlockSize)
	for i := uint64(0); i < sb.NBitmap(); i++ {
		blk, err := d.Read(sb.BitmapStart() + i)
		if err != nil {
			return nil, fmt.Errorf("mount: reading bitmap: %w", err)
		}
		bitmap = append(bitmap, blk...)
	}

	fs := &FS{
		d:      d,
		super:  sb,
		bitmap: alloc.MkAlloc(sb.BitmapStart(), bitmap, sb.NBlocks),
		locks:  lockmap.MkLockMap(),
		vnlock: new(sync.Mutex),
		vnodes: make(map[common.Inum]*Vnode),
	}
	for bn := uint64(0); bn < sb.DataStart(); bn++ {
		if !fs.bused(bn) {
			common.Corrupt("mount: metadata block %d marked free", bn)
		}
	}
	util.DPrintf(1, "mount: volume %v, %d blocks, %d free\n",
		sb.UUID, sb.NBlocks, fs.NumFree())
	return fs, nil
}

// GetRoot returns a reference to the root directory.
func (fs *FS) GetRoot() (*Vnode, error) {
	return fs.loadvnode(fs.super.RootInum(), common.TypeInvalid)
}

func (fs *FS) Super() *super.FsSuper {
	return fs.super
}

func (fs *FS) NumFree() uint64 {
	return fs.bitmap.NumFree()
}

// Sync writes every resident vnode's dirty inode, then the bitmap and the
// superblock, then issues a barrier.
func (fs *FS) Sync() error {
	fs.vnlock.Lock()
	vns := make([]*Vnode, 0, len(fs.vnodes))
	for _, vn := range fs.vnodes {
		vn.Incref()
		vns = append(vns, vn)
	}
	fs.vnlock.Unlock()

	var err error
	for _, vn := range vns {
		if err == nil {
			err = vn.Fsync()
		}
		if derr := vn.Decref(); derr != nil && err == nil {
			err = derr
		}
	}
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := fs.bitmap.Flush(fs.d); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := fs.d.Write(common.SUPERBLOCK, fs.super.Encode()); err != nil {
		return fmt.Errorf("sync: writing superblock: %w", err)
	}
	return fs.d.Barrier()
}

// Unmount syncs the filesystem. It fails with ErrBusy while any vnode is
// still referenced. The caller keeps ownership of the disk.
func (fs *FS) Unmount() error {
	fs.vnlock.Lock()
	n := len(fs.vnodes)
	fs.vnlock.Unlock()
	if n > 0 {
		return fmt.Errorf("unmount: %d vnodes in use: %w", n, common.ErrBusy)
	}
	return fs.Sync()
}

////////////////////////////////////////////////////////////
//
// Space allocation

// Zero out a disk block.
func (fs *FS) clearblock(bn common.Bnum) error {
	return fs.d.Write(bn, make(disk.Block, disk.BlockSize))
}

// Allocate a zeroed block.
// Locking: gets the bitmap lock.
func (fs *FS) balloc() (common.Bnum, error) {
	bn := fs.bitmap.AllocNum()
	if bn == common.NULLBNUM {
		return 0, common.ErrNoSpace
	}
	if bn >= fs.super.NBlocks {
		common.Corrupt("balloc: invalid block %d", bn)
	}
	if err := fs.clearblock(bn); err != nil {
		fs.bfree(bn)
		return 0, fmt.Errorf("clearing block %d: %w", bn, err)
	}
	return bn, nil
}

// Free a block. The caller guarantees nothing references it any more.
// Locking: gets the bitmap lock.
func (fs *FS) bfree(bn common.Bnum) {
	fs.bitmap.FreeNum(bn)
}

// Check if a block is in use.
// Locking: gets the bitmap lock.
func (fs *FS) bused(bn common.Bnum) bool {
	if bn >= fs.super.NBlocks {
		common.Corrupt("bused called on out of range block %d", bn)
	}
	return fs.bitmap.IsUsed(bn)
}
