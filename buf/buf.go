// buf holds in-memory copies of whole disk blocks: indirect blocks and
// scratch blocks for partial-block I/O.
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/util"
)

// A Buf is a copy of disk block Blkno
type Buf struct {
	Blkno common.Bnum
	Data  disk.Block
	dirty bool // has this block been written to?
}

func MkBuf(blkno common.Bnum, data disk.Block) *Buf {
	if uint64(len(data)) != disk.BlockSize {
		panic("MkBuf: data is not block-sized")
	}
	b := &Buf{
		Blkno: blkno,
		Data:  data,
		dirty: false,
	}
	return b
}

// MkBufZero returns an all-zero buffer for blkno that has not been read.
func MkBufZero(blkno common.Bnum) *Buf {
	return MkBuf(blkno, make(disk.Block, disk.BlockSize))
}

// Load block blkno into a new buf
func MkBufLoad(d disk.Disk, blkno common.Bnum) (*Buf, error) {
	blk, err := d.Read(blkno)
	if err != nil {
		return nil, err
	}
	return MkBuf(blkno, blk), nil
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// WriteDirect writes the buf back if it is dirty.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	if !buf.dirty {
		return nil
	}
	util.DPrintf(20, "%d: write back\n", buf.Blkno)
	if err := d.Write(buf.Blkno, buf.Data); err != nil {
		return err
	}
	buf.dirty = false
	return nil
}

// Install copies src into the buf at byte offset off.
func (buf *Buf) Install(off uint64, src []byte) {
	if off+uint64(len(src)) > disk.BlockSize {
		panic("Install: past end of block")
	}
	copy(buf.Data[off:], src)
	buf.SetDirty()
}

// BnumGet returns the i-th block pointer stored in the buf.
func (buf *Buf) BnumGet(i uint64) common.Bnum {
	off := i * 8
	dec := marshal.NewDec(buf.Data[off : off+8])
	return common.Bnum(dec.GetInt())
}

func (buf *Buf) BnumPut(i uint64, v common.Bnum) {
	off := i * 8
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(v))
	copy(buf.Data[off:off+8], enc.Finish())
	buf.SetDirty()
}

// IsZero reports whether every block pointer in the buf is null.
func (buf *Buf) IsZero() bool {
	for _, b := range buf.Data {
		if b != 0 {
			return false
		}
	}
	return true
}
