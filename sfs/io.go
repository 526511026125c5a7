package sfs

import (
	"fmt"

	"github.com/mit-pdos/go-sfs/buf"
	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

// uio describes one transfer between a caller's buffer and a file: data is
// the buffer, pos the next byte of it to move, offset the matching file
// offset, and resid the number of bytes still to go.
type uio struct {
	data   []byte
	pos    uint64
	offset uint64
	resid  uint64
	write  bool
}

func (u *uio) advance(n uint64) {
	u.pos += n
	u.offset += n
	u.resid -= n
}

// Do I/O on a block of a file that does not cover the whole block: read
// the block into a scratch buffer and copy in or out of it.
//
// Locking: must hold vnode lock.
func (vn *Vnode) partialio(u *uio, fileblock uint64, skipstart uint64) error {
	fs := vn.fs
	n := util.Min(u.resid, disk.BlockSize-skipstart)

	diskblock, err := vn.bmap(fileblock, u.write)
	if err != nil {
		return err
	}

	var b *buf.Buf
	if diskblock == common.NULLBNUM {
		// A hole; bmap only leaves one when reading.
		b = buf.MkBufZero(diskblock)
	} else {
		b, err = buf.MkBufLoad(fs.d, diskblock)
		if err != nil {
			return fmt.Errorf("reading block %d: %w", diskblock, err)
		}
	}

	if u.write {
		b.Install(skipstart, u.data[u.pos:u.pos+n])
		if err := b.WriteDirect(fs.d); err != nil {
			return fmt.Errorf("writing block %d: %w", diskblock, err)
		}
	} else {
		copy(u.data[u.pos:u.pos+n], b.Data[skipstart:skipstart+n])
	}
	u.advance(n)
	return nil
}

// Do I/O on a whole block straight to or from the caller's buffer.
//
// Locking: must hold vnode lock.
func (vn *Vnode) blockio(u *uio, fileblock uint64) error {
	fs := vn.fs
	diskblock, err := vn.bmap(fileblock, u.write)
	if err != nil {
		return err
	}
	p := u.data[u.pos : u.pos+disk.BlockSize]

	if diskblock == common.NULLBNUM {
		for i := range p {
			p[i] = 0
		}
	} else if u.write {
		if err := fs.d.Write(diskblock, p); err != nil {
			return fmt.Errorf("writing block %d: %w", diskblock, err)
		}
	} else {
		if err := fs.d.ReadTo(diskblock, p); err != nil {
			return fmt.Errorf("reading block %d: %w", diskblock, err)
		}
	}
	u.advance(disk.BlockSize)
	return nil
}

// io runs a whole transfer: a leading partial block, whole blocks, then a
// trailing partial block. Reads stop at EOF; writes extend the file. On
// error, what was already transferred stays transferred and is reflected
// in u.
//
// Locking: must hold vnode lock.
func (vn *Vnode) io(u *uio) error {
	vn.assertLocked()

	// If reading, check for EOF. If we hit EOF, set aside the rest of the
	// request so the loops below see a shorter transfer.
	var extraresid uint64
	if !u.write {
		if u.offset >= vn.ip.Size {
			return nil
		}
		if u.resid > vn.ip.Size-u.offset {
			extraresid = u.resid - (vn.ip.Size - u.offset)
			u.resid -= extraresid
		}
	}

	err := vn.doio(u)
	u.resid += extraresid

	// If writing, adjust the file size to cover whatever got written, even
	// if the transfer stopped part way.
	if u.write && u.pos > 0 && u.offset > vn.ip.Size {
		vn.ip.Size = u.offset
		vn.dirty = true
	}
	return err
}

func (vn *Vnode) doio(u *uio) error {
	// First, do any leading partial block.
	skip := u.offset % disk.BlockSize
	if skip != 0 && u.resid > 0 {
		if err := vn.partialio(u, u.offset/disk.BlockSize, skip); err != nil {
			return err
		}
	}

	// Now do whole blocks.
	for u.resid >= disk.BlockSize {
		if err := vn.blockio(u, u.offset/disk.BlockSize); err != nil {
			return err
		}
	}

	// Now do any remaining partial block at the end.
	if u.resid > 0 {
		if err := vn.partialio(u, u.offset/disk.BlockSize, 0); err != nil {
			return err
		}
	}
	return nil
}

// rw is the common path for Read and Write, for files and (internally)
// directories. It returns the number of bytes moved.
//
// Locking: must hold vnode lock.
func (vn *Vnode) rw(p []byte, off uint64, write bool) (uint64, error) {
	n := uint64(len(p))
	if util.SumOverflows(off, n) {
		return 0, fmt.Errorf("offset %d + length %d overflows: %w", off, n, common.ErrInvalid)
	}
	if write && off >= common.MAXBLOCKS*disk.BlockSize {
		return 0, fmt.Errorf("write at %d past maximum file size: %w", off, common.ErrInvalid)
	}
	u := &uio{data: p, offset: off, resid: n, write: write}
	err := vn.io(u)
	return u.pos, err
}
