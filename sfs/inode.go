package sfs

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
)

// inode is the on-disk metadata of one object. It occupies the whole
// block whose number is the inode number.
type inode struct {
	Type      common.Type
	Size      uint64
	LinkCount uint64
	Direct    [common.NDIRECT]common.Bnum
	Indirect  common.Bnum
}

func decodeInode(blk disk.Block) *inode {
	dec := marshal.NewDec(blk)
	ip := &inode{}
	ip.Type = common.Type(dec.GetInt())
	ip.Size = dec.GetInt()
	ip.LinkCount = dec.GetInt()
	copy(ip.Direct[:], dec.GetInts(common.NDIRECT))
	ip.Indirect = dec.GetInt()
	return ip
}

func (ip *inode) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(uint64(ip.Type))
	enc.PutInt(ip.Size)
	enc.PutInt(ip.LinkCount)
	enc.PutInts(ip.Direct[:])
	enc.PutInt(ip.Indirect)
	return enc.Finish()
}
