package sfs

import (
	"bytes"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-sfs/common"
)

// dirent is one fixed-size directory record. Inum NULLINUM marks an empty
// slot.
type dirent struct {
	Inum common.Inum
	Name string
}

func decodeDirent(b []byte) dirent {
	dec := marshal.NewDec(b[:8])
	ino := common.Inum(dec.GetInt())
	name := b[8:common.DIRENTSZ]
	// force termination, in case the record was written by someone else
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	} else {
		name = name[:len(name)-1]
	}
	return dirent{Inum: ino, Name: string(name)}
}

// encode panics if the name does not fit; callers check NameTooLong first.
func (de dirent) encode() []byte {
	if uint64(len(de.Name))+1 > common.NAMELEN {
		panic("dirent: name too long")
	}
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(de.Inum))
	b := make([]byte, common.DIRENTSZ)
	copy(b, enc.Finish())
	copy(b[8:], de.Name)
	return b
}
