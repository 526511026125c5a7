package sfs

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/util"
)

// Directories are plain files holding an array of fixed-size records.
// Removing a name clears its record; directories never shrink.

// Locking: must hold vnode lock.
func (vn *Vnode) nentries() uint64 {
	vn.assertLocked()
	size := vn.ip.Size
	if size%common.DIRENTSZ != 0 {
		common.Corrupt("directory %d has illegal size %d", vn.inum, size)
	}
	return size / common.DIRENTSZ
}

// Read the directory entry in slot.
// Locking: must hold vnode lock.
func (vn *Vnode) readdir(slot uint64) (dirent, error) {
	b := make([]byte, common.DIRENTSZ)
	n, err := vn.rw(b, slot*common.DIRENTSZ, false)
	if err != nil {
		return dirent{}, fmt.Errorf("directory %d slot %d: %w", vn.inum, slot, err)
	}
	if n != common.DIRENTSZ {
		common.Corrupt("directory %d: short entry read at slot %d (%d bytes)",
			vn.inum, slot, n)
	}
	return decodeDirent(b), nil
}

// Write (overwrite) the directory entry in slot.
// Locking: must hold vnode lock.
func (vn *Vnode) writedir(de dirent, slot uint64) error {
	n, err := vn.rw(de.encode(), slot*common.DIRENTSZ, true)
	if err != nil {
		return fmt.Errorf("directory %d slot %d: %w", vn.inum, slot, err)
	}
	if n != common.DIRENTSZ {
		common.Corrupt("directory %d: short entry write at slot %d (%d bytes)",
			vn.inum, slot, n)
	}
	return nil
}

// findname searches vn for name. On success it returns the inode number
// and slot; emptyslot is the first free slot seen, or -1 if there is
// none. Returns ErrNotFound if name is absent; emptyslot is still valid
// then.
//
// Locking: must hold vnode lock.
func (vn *Vnode) findname(name string) (common.Inum, uint64, int64, error) {
	nents := vn.nentries()
	emptyslot := int64(-1)
	found := false
	var ino common.Inum
	var slot uint64

	for i := uint64(0); i < nents; i++ {
		de, err := vn.readdir(i)
		if err != nil {
			return 0, 0, emptyslot, err
		}
		if de.Inum == common.NULLINUM {
			if emptyslot < 0 {
				emptyslot = int64(i)
			}
			continue
		}
		if de.Name != name {
			continue
		}
		if found {
			common.Corrupt("directory %d: duplicate name %q in slots %d and %d",
				vn.inum, name, slot, i)
		}
		found = true
		ino = de.Inum
		slot = i
	}
	if !found {
		return 0, 0, emptyslot, common.ErrNotFound
	}
	return ino, slot, emptyslot, nil
}

// dirLink adds name -> ino to vn, filling the first free slot or growing
// the directory by one record. It does not touch ino's link count.
//
// Locking: must hold vnode lock.
func (vn *Vnode) dirLink(name string, ino common.Inum) (uint64, error) {
	if uint64(len(name))+1 > common.NAMELEN {
		return 0, fmt.Errorf("%q: %w", name, common.ErrNameTooLong)
	}

	_, _, emptyslot, err := vn.findname(name)
	if err == nil {
		return 0, fmt.Errorf("%q: %w", name, common.ErrAlreadyExists)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return 0, err
	}

	var slot uint64
	if emptyslot >= 0 {
		slot = uint64(emptyslot)
	} else {
		slot = vn.nentries()
	}
	if err := vn.writedir(dirent{Inum: ino, Name: name}, slot); err != nil {
		return 0, err
	}
	util.DPrintf(5, "link %d: %q -> %d in slot %d\n", vn.inum, name, ino, slot)
	return slot, nil
}

// dirUnlink clears slot. It does not touch the target's link count.
//
// Locking: must hold vnode lock.
func (vn *Vnode) dirUnlink(slot uint64) error {
	util.DPrintf(5, "unlink %d: slot %d\n", vn.inum, slot)
	return vn.writedir(dirent{Inum: common.NULLINUM}, slot)
}

// lookonce looks up a single path component in vn and returns a reference
// to the vnode it names, and the slot it was found in.
//
// Locking: must hold vnode lock. Gets/releases the target's vnode lock,
// unless the target is vn itself or its parent.
func (vn *Vnode) lookonce(name string) (*Vnode, uint64, error) {
	ino, slot, _, err := vn.findname(name)
	if err != nil {
		return nil, 0, err
	}
	target, err := vn.fs.loadvnode(ino, common.TypeInvalid)
	if err != nil {
		return nil, 0, err
	}

	// A linked name must point at something with links. We cannot lock
	// ourselves again, and must not lock our parent while we hold the
	// child's lock, so those are skipped.
	if ino != vn.inum && name != ".." {
		target.lock()
		links := target.ip.LinkCount
		target.unlock()
		if links == 0 {
			common.Corrupt("directory %d: %q names inode %d with no links",
				vn.inum, name, ino)
		}
	}
	return target, slot, nil
}
