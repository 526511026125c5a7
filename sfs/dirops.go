package sfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/util"
)

// checkName validates a single path component. "." and ".." are legal to
// look up but not to create, remove or rename.
func checkName(name string, mutating bool) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalid)
	}
	if mutating && (name == "." || name == "..") {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalid)
	}
	if uint64(len(name))+1 > common.NAMELEN {
		return fmt.Errorf("%q: %w", name, common.ErrNameTooLong)
	}
	return nil
}

// Create returns a reference to the file name in directory vn, creating
// it if it does not exist. With excl set, an existing name is an error.
//
// Locking: gets/releases the vnode lock for vn, and the new file's lock
// to set its link count.
func (vn *Vnode) Create(name string, excl bool) (*Vnode, error) {
	if !vn.isDir() {
		return nil, common.ErrNotDir
	}
	if err := checkName(name, true); err != nil {
		return nil, err
	}
	vn.lock()
	defer vn.unlock()

	ino, _, _, err := vn.findname(name)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		if excl {
			return nil, fmt.Errorf("%q: %w", name, common.ErrAlreadyExists)
		}
		return vn.fs.loadvnode(ino, common.TypeInvalid)
	}

	newguy, err := vn.fs.makeobj(common.TypeFile)
	if err != nil {
		return nil, err
	}
	if _, err := vn.dirLink(name, newguy.inum); err != nil {
		newguy.put()
		return nil, err
	}

	newguy.lock()
	newguy.ip.LinkCount++
	newguy.dirty = true
	newguy.unlock()
	util.DPrintf(1, "create %d: %q is inode %d\n", vn.inum, name, newguy.inum)
	return newguy, nil
}

// Link makes name in directory vn another name for target, which must be
// a file on the same filesystem.
//
// Locking: locks vn, then target, but not at once. Our reference keeps
// target from being reclaimed in between.
func (vn *Vnode) Link(name string, target *Vnode) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	if target.fs != vn.fs {
		return fmt.Errorf("link across filesystems: %w", common.ErrInvalid)
	}
	if target.isDir() {
		return common.ErrIsDir
	}
	if err := checkName(name, true); err != nil {
		return err
	}

	vn.lock()
	_, err := vn.dirLink(name, target.inum)
	vn.unlock()
	if err != nil {
		return err
	}

	target.lock()
	target.ip.LinkCount++
	target.dirty = true
	target.unlock()
	return nil
}

// Remove deletes the name of a file from directory vn. The file itself
// goes away once its last name and last reference are gone.
//
// Locking: locks the directory, then the file.
func (vn *Vnode) Remove(name string) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	if err := checkName(name, true); err != nil {
		return err
	}
	vn.lock()

	victim, slot, err := vn.lookonce(name)
	if err != nil {
		vn.unlock()
		return err
	}
	if victim.isDir() {
		vn.unlock()
		victim.put()
		return fmt.Errorf("%q: %w", name, common.ErrIsDir)
	}

	err = vn.dirUnlink(slot)
	if err == nil {
		victim.lock()
		if victim.ip.LinkCount == 0 {
			common.Corrupt("remove: inode %d has no links", victim.inum)
		}
		victim.ip.LinkCount--
		victim.dirty = true
		victim.unlock()
	}
	vn.unlock()

	if derr := victim.Decref(); derr != nil && err == nil {
		err = derr
	}
	return err
}

// Rename changes oldname to newname within directory vn. newname must not
// exist. If the old entry cannot be removed once the new one is in place,
// the new one is taken out again; failing that the directory is left with
// two names for the object, which is fatal.
//
// Locking: locks the directory, then the object being renamed.
func (vn *Vnode) Rename(oldname, newname string) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	if err := checkName(oldname, true); err != nil {
		return err
	}
	if err := checkName(newname, true); err != nil {
		return err
	}
	vn.lock()

	g1, slot1, err := vn.lookonce(oldname)
	if err != nil {
		vn.unlock()
		return err
	}
	g1.lock()
	err = vn.rename(g1, slot1, newname)
	g1.unlock()
	vn.unlock()

	if derr := g1.Decref(); derr != nil && err == nil {
		err = derr
	}
	return err
}

// Locking: must hold the vnode locks of vn and g1.
func (vn *Vnode) rename(g1 *Vnode, slot1 uint64, newname string) error {
	// Link it under the new name, which also checks newname is free.
	slot2, err := vn.dirLink(newname, g1.inum)
	if err != nil {
		return err
	}
	g1.ip.LinkCount++
	g1.dirty = true

	if err := vn.dirUnlink(slot1); err != nil {
		if err2 := vn.dirUnlink(slot2); err2 != nil {
			common.Corrupt("rename: %v; while cleaning up: %v", err, err2)
		}
		g1.ip.LinkCount--
		return err
	}

	// Mark dirty again, in case the inode was synced in between.
	g1.ip.LinkCount--
	g1.dirty = true
	util.DPrintf(1, "rename %d: slot %d -> %q (inode %d)\n", vn.inum, slot1, newname, g1.inum)
	return nil
}

// Mkdir creates directory name in vn, holding "." and "..".
//
// Locking: locks vn, then the new directory.
func (vn *Vnode) Mkdir(name string) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	if err := checkName(name, true); err != nil {
		return err
	}
	vn.lock()

	_, _, _, err := vn.findname(name)
	if err == nil {
		vn.unlock()
		return fmt.Errorf("%q: %w", name, common.ErrAlreadyExists)
	}
	if !errors.Is(err, common.ErrNotFound) {
		vn.unlock()
		return err
	}

	newguy, err := vn.fs.makeobj(common.TypeDir)
	if err != nil {
		vn.unlock()
		return err
	}
	newguy.lock()

	_, err = newguy.dirLink(".", newguy.inum)
	if err == nil {
		_, err = newguy.dirLink("..", vn.inum)
	}
	if err == nil {
		_, err = vn.dirLink(name, newguy.inum)
	}
	if err != nil {
		// Never linked, so reclaim discards it.
		newguy.unlock()
		vn.unlock()
		newguy.put()
		return err
	}

	// One link from the parent's entry, and the parent gains one from ".."
	newguy.ip.LinkCount++
	newguy.dirty = true
	vn.ip.LinkCount++
	vn.dirty = true

	newguy.unlock()
	vn.unlock()
	util.DPrintf(1, "mkdir %d: %q is inode %d\n", vn.inum, name, newguy.inum)
	return newguy.Decref()
}

func (vn *Vnode) Rmdir(name string) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	return common.ErrUnimplemented
}

func (vn *Vnode) Symlink(name, contents string) error {
	if !vn.isDir() {
		return common.ErrNotDir
	}
	return common.ErrUnimplemented
}

// Lookup returns a reference to the object at path, relative to directory
// vn. Components are separated by "/"; empty components are skipped, so
// the empty path names vn itself.
//
// Locking: holds one directory lock at a time while walking down.
func (vn *Vnode) Lookup(path string) (*Vnode, error) {
	if !vn.isDir() {
		return nil, common.ErrNotDir
	}
	cur := vn
	cur.Incref()
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		if !cur.isDir() {
			cur.put()
			return nil, fmt.Errorf("%q: %w", path, common.ErrNotDir)
		}
		if err := checkName(name, false); err != nil {
			cur.put()
			return nil, err
		}

		cur.lock()
		next, _, err := cur.lookonce(name)
		cur.unlock()
		if derr := cur.Decref(); derr != nil {
			if next != nil {
				next.put()
			}
			return nil, derr
		}
		if err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
		cur = next
	}
	return cur, nil
}

// LookParent splits off the last component of path and returns a
// reference to the directory that holds it, along with its name.
func (vn *Vnode) LookParent(path string) (*Vnode, string, error) {
	if !vn.isDir() {
		return nil, "", common.ErrNotDir
	}
	path = strings.TrimRight(path, "/")
	dirpath, leaf := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		dirpath, leaf = path[:i], path[i+1:]
	}
	if leaf == "" {
		return nil, "", fmt.Errorf("path %q has no last component: %w", path, common.ErrInvalid)
	}
	if uint64(len(leaf))+1 > common.NAMELEN {
		return nil, "", fmt.Errorf("%q: %w", leaf, common.ErrNameTooLong)
	}

	parent, err := vn.Lookup(dirpath)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		parent.put()
		return nil, "", fmt.Errorf("%q: %w", dirpath, common.ErrNotDir)
	}
	return parent, leaf, nil
}
