package sfs

import (
	"fmt"
	"os"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

// Attr is what Stat reports about a vnode.
type Attr struct {
	Inum      common.Inum
	Type      common.Type
	Size      uint64
	LinkCount uint64
}

func (vn *Vnode) isDir() bool {
	return vn.typ == common.TypeDir
}

// put drops a reference on an error path, where the caller is already
// returning a more interesting error.
func (vn *Vnode) put() {
	if err := vn.Decref(); err != nil {
		util.DPrintf(0, "sfs: releasing vnode %d: %v\n", vn.inum, err)
	}
}

// Open checks that flags (os.O_*) are acceptable for vn. Files cannot be
// opened for append; directories only read-only.
func (vn *Vnode) Open(flags int) error {
	if vn.isDir() {
		if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
			return common.ErrIsDir
		}
		return nil
	}
	if flags&os.O_APPEND != 0 {
		return common.ErrUnimplemented
	}
	return nil
}

// Close is called on the last close of an open vnode.
func (vn *Vnode) Close() error {
	return vn.Fsync()
}

// Read copies file bytes starting at off into p. It stops at end of file
// and returns the number of bytes read.
//
// Locking: gets/releases vnode lock.
func (vn *Vnode) Read(p []byte, off uint64) (uint64, error) {
	if vn.isDir() {
		return 0, common.ErrIsDir
	}
	vn.lock()
	defer vn.unlock()
	return vn.rw(p, off, false)
}

// Write copies p into the file at off, growing the file if needed. On
// error the count says how much of p reached the disk.
//
// Locking: gets/releases vnode lock.
func (vn *Vnode) Write(p []byte, off uint64) (uint64, error) {
	if vn.isDir() {
		return 0, common.ErrIsDir
	}
	vn.lock()
	defer vn.unlock()
	return vn.rw(p, off, true)
}

// GetDirEntry returns the name in directory slot. An empty slot yields
// the empty name; ok is false once slot is past the last entry.
//
// Locking: gets/releases vnode lock.
func (vn *Vnode) GetDirEntry(slot uint64) (name string, ok bool, err error) {
	if !vn.isDir() {
		return "", false, common.ErrNotDir
	}
	vn.lock()
	defer vn.unlock()
	if slot >= vn.nentries() {
		return "", false, nil
	}
	de, err := vn.readdir(slot)
	if err != nil {
		return "", false, err
	}
	if de.Inum == common.NULLINUM {
		return "", true, nil
	}
	return de.Name, true, nil
}

// Locking: gets/releases vnode lock.
func (vn *Vnode) Stat() (Attr, error) {
	vn.lock()
	defer vn.unlock()
	return Attr{
		Inum:      vn.inum,
		Type:      vn.typ,
		Size:      vn.ip.Size,
		LinkCount: vn.ip.LinkCount,
	}, nil
}

// TrySeek allows any non-negative position; reads and writes past what
// the inode can map fail on their own.
func (vn *Vnode) TrySeek(pos int64) error {
	if vn.isDir() {
		return common.ErrUnimplemented
	}
	if pos < 0 {
		return fmt.Errorf("seek to %d: %w", pos, common.ErrInvalid)
	}
	return nil
}

// Locking: gets/releases vnode lock.
func (vn *Vnode) Fsync() error {
	vn.lock()
	defer vn.unlock()
	return vn.syncInode()
}

// Truncate sets the file's length, freeing blocks past the new end.
// Growing a file leaves a hole that reads as zeros.
//
// Locking: gets/releases vnode lock.
func (vn *Vnode) Truncate(length uint64) error {
	if vn.isDir() {
		return common.ErrIsDir
	}
	if length > common.MAXBLOCKS*disk.BlockSize {
		return fmt.Errorf("truncate to %d: %w", length, common.ErrInvalid)
	}
	vn.lock()
	defer vn.unlock()
	return vn.dotruncate(length)
}

// NameFile returns the path of a directory relative to the root. Only the
// root itself, whose path is empty, is supported.
func (vn *Vnode) NameFile() (string, error) {
	if !vn.isDir() {
		return "", common.ErrNotDir
	}
	if vn.inum != common.ROOTINUM {
		return "", common.ErrUnimplemented
	}
	return "", nil
}
