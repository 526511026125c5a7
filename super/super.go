// Package super describes the on-disk layout:
//
//	[ superblock | root inode | bitmap ... | data ... ]
//	  0            1            2            DataStart()
//
// Every other inode lives in an allocated data block; an inode number is
// the number of the block holding it.
package super

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

const MAGIC uint64 = 0xabadf001

// smallest disk holding the metadata and the root directory's first block
const MINBLOCKS uint64 = 4

type FsSuper struct {
	NBlocks uint64
	UUID    uuid.UUID
}

func MkFsSuper(nblocks uint64, id uuid.UUID) *FsSuper {
	return &FsSuper{NBlocks: nblocks, UUID: id}
}

func (fs *FsSuper) NBitmap() uint64 {
	return util.RoundUp(fs.NBlocks, common.NBITBLOCK)
}

func (fs *FsSuper) RootInum() common.Inum {
	return common.ROOTINUM
}

func (fs *FsSuper) BitmapStart() common.Bnum {
	return common.Bnum(common.ROOTINUM) + 1
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.BitmapStart() + fs.NBitmap()
}

func (fs *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(MAGIC)
	enc.PutInt(fs.NBlocks)
	blk := enc.Finish()
	copy(blk[16:32], fs.UUID[:])
	return blk
}

func Decode(blk disk.Block) (*FsSuper, error) {
	dec := marshal.NewDec(blk)
	if magic := dec.GetInt(); magic != MAGIC {
		return nil, fmt.Errorf("bad superblock magic %#x: %w", magic, common.ErrInvalid)
	}
	nblocks := dec.GetInt()
	id, err := uuid.FromBytes(blk[16:32])
	if err != nil {
		return nil, fmt.Errorf("superblock volume id: %w", err)
	}
	if nblocks < MINBLOCKS {
		return nil, fmt.Errorf("superblock claims %d blocks: %w", nblocks, common.ErrInvalid)
	}
	return MkFsSuper(nblocks, id), nil
}
