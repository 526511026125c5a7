package addr

import (
	"github.com/mit-pdos/go-sfs/common"
)

// Addr identifies one bit of the on-disk free-space bitmap.
//
// Blkno is the bitmap block containing the bit and Off is the bit's
// position within that block.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

// Byte is the index of the byte holding the bit, relative to its block.
func (a Addr) Byte() uint64 {
	return a.Off / 8
}

// Mask selects the bit within Byte.
func (a Addr) Mask() byte {
	return 1 << (a.Off % 8)
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr locates bit n of a bitmap whose first block is start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	addr := MkAddr(start+common.Bnum(i), bit)
	return addr
}
