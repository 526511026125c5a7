package sfs

import (
	"fmt"

	"github.com/mit-pdos/go-sfs/buf"
	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

// bmap returns the disk block holding logical block fileblock of vn. With
// doalloc set, a missing block (and the indirect block, if needed) is
// allocated; otherwise a hole comes back as NULLBNUM.
//
// Locking: must hold vnode lock. May get/release the bitmap lock.
func (vn *Vnode) bmap(fileblock uint64, doalloc bool) (common.Bnum, error) {
	vn.assertLocked()
	fs := vn.fs
	var block common.Bnum

	if fileblock < common.NDIRECT {
		block = vn.ip.Direct[fileblock]
		if block == common.NULLBNUM && doalloc {
			bn, err := fs.balloc()
			if err != nil {
				return 0, err
			}
			block = bn
			vn.ip.Direct[fileblock] = block
			vn.dirty = true
		}
	} else {
		idoff := fileblock - common.NDIRECT
		if idoff >= common.NINDIRECT {
			return 0, fmt.Errorf("bmap: block %d past maximum file size: %w",
				fileblock, common.ErrInvalid)
		}

		if vn.ip.Indirect == common.NULLBNUM && !doalloc {
			return common.NULLBNUM, nil
		}

		var idblk *buf.Buf
		if vn.ip.Indirect == common.NULLBNUM {
			bn, err := fs.balloc()
			if err != nil {
				return 0, err
			}
			vn.ip.Indirect = bn
			vn.dirty = true
			idblk = buf.MkBufZero(bn)
		} else {
			b, err := buf.MkBufLoad(fs.d, vn.ip.Indirect)
			if err != nil {
				return 0, fmt.Errorf("bmap: reading indirect block: %w", err)
			}
			idblk = b
		}

		block = idblk.BnumGet(idoff)
		if block == common.NULLBNUM && doalloc {
			bn, err := fs.balloc()
			if err != nil {
				return 0, err
			}
			idblk.BnumPut(idoff, bn)
			if err := idblk.WriteDirect(fs.d); err != nil {
				fs.bfree(bn)
				return 0, fmt.Errorf("bmap: writing indirect block: %w", err)
			}
			block = bn
		}
	}

	// Hand back only blocks the bitmap agrees are in use
	if block != common.NULLBNUM && !fs.bused(block) {
		common.Corrupt("bmap: data block %d (block %d of file %d) marked free",
			block, fileblock, vn.inum)
	}
	return block, nil
}

// dotruncate changes the length of vn to newlen, discarding every block that
// lies wholly past the new end. The shortened inode is written to disk
// before any of the blocks go back to the free pool.
//
// Locking: must hold vnode lock. Gets/releases the bitmap lock.
func (vn *Vnode) dotruncate(newlen uint64) error {
	vn.assertLocked()
	fs := vn.fs
	blocklen := util.RoundUp(newlen, disk.BlockSize)
	var freed []common.Bnum

	// The kept part of the last block must read as zeros if the file grows
	// again.
	if tail := newlen % disk.BlockSize; tail != 0 && newlen < vn.ip.Size {
		if err := vn.zerotail(newlen/disk.BlockSize, tail); err != nil {
			return err
		}
	}

	for i := blocklen; i < common.NDIRECT; i++ {
		if vn.ip.Direct[i] != common.NULLBNUM {
			freed = append(freed, vn.ip.Direct[i])
			vn.ip.Direct[i] = common.NULLBNUM
		}
	}

	if vn.ip.Indirect != common.NULLBNUM && blocklen < common.MAXBLOCKS {
		idblk, err := buf.MkBufLoad(fs.d, vn.ip.Indirect)
		if err != nil {
			return fmt.Errorf("truncate: reading indirect block: %w", err)
		}
		var first uint64
		if blocklen > common.NDIRECT {
			first = blocklen - common.NDIRECT
		}
		for j := first; j < common.NINDIRECT; j++ {
			bn := idblk.BnumGet(j)
			if bn != common.NULLBNUM {
				freed = append(freed, bn)
				idblk.BnumPut(j, common.NULLBNUM)
			}
		}
		if idblk.IsZero() {
			freed = append(freed, vn.ip.Indirect)
			vn.ip.Indirect = common.NULLBNUM
		} else if err := idblk.WriteDirect(fs.d); err != nil {
			return fmt.Errorf("truncate: writing indirect block: %w", err)
		}
	}

	vn.ip.Size = newlen
	vn.dirty = true

	if len(freed) == 0 {
		return nil
	}
	if err := vn.syncInode(); err != nil {
		return err
	}
	for _, bn := range freed {
		fs.bfree(bn)
	}
	util.DPrintf(5, "truncate %d: size %d, freed %d blocks\n", vn.inum, newlen, len(freed))
	return nil
}

// zerotail clears logical block fileblock from byte off to its end.
//
// Locking: must hold vnode lock.
func (vn *Vnode) zerotail(fileblock uint64, off uint64) error {
	bn, err := vn.bmap(fileblock, false)
	if err != nil || bn == common.NULLBNUM {
		return err
	}
	b, err := buf.MkBufLoad(vn.fs.d, bn)
	if err != nil {
		return fmt.Errorf("truncate: reading block %d: %w", bn, err)
	}
	b.Install(off, make([]byte, disk.BlockSize-off))
	if err := b.WriteDirect(vn.fs.d); err != nil {
		return fmt.Errorf("truncate: writing block %d: %w", bn, err)
	}
	return nil
}
