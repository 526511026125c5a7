package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8

	NDIRECT   uint64 = 15
	NINDIRECT uint64 = disk.BlockSize / 8 // block pointers per indirect block
	MAXBLOCKS uint64 = NDIRECT + NINDIRECT

	INODESZ uint64 = 8 * (3 + NDIRECT + 1) // on-disk size

	DIRENTSZ uint64 = 64
	NAMELEN  uint64 = DIRENTSZ - 8 // including the terminating NUL
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0

	SUPERBLOCK Bnum = 0
)

// Inode types as stored on disk. A freshly zeroed block decodes as
// TypeInvalid.
type Type uint64

const (
	TypeInvalid Type = 0
	TypeFile    Type = 1
	TypeDir     Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	}
	return "invalid"
}
