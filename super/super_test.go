package super

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
)

func TestLayout(t *testing.T) {
	assert := assert.New(t)
	fs := MkFsSuper(100, uuid.New())
	assert.Equal(uint64(1), fs.NBitmap())
	assert.Equal(common.Bnum(2), fs.BitmapStart())
	assert.Equal(common.Bnum(3), fs.DataStart())

	fs = MkFsSuper(common.NBITBLOCK+1, uuid.New())
	assert.Equal(uint64(2), fs.NBitmap())
	assert.Equal(common.Bnum(4), fs.DataStart())
}

func TestEncodeDecode(t *testing.T) {
	fs := MkFsSuper(1000, uuid.New())
	fs2, err := Decode(fs.Encode())
	require.NoError(t, err)
	assert.Equal(t, fs, fs2)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode(make(disk.Block, disk.BlockSize))
	assert.True(t, errors.Is(err, common.ErrInvalid))
}
