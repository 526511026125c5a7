package sfs

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
)

const testBlocks uint64 = 1000

var errInjected = errors.New("injected write failure")

// faultyDisk fails chosen writes: counting from when it is armed, writes
// number failFrom through failTo (inclusive, 1-based) return errInjected.
type faultyDisk struct {
	disk.Disk
	mu       sync.Mutex
	writes   int
	failFrom int
	failTo   int
}

func (d *faultyDisk) arm(from, to int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = 0
	d.failFrom = from
	d.failTo = to
}

func (d *faultyDisk) Write(a uint64, v disk.Block) error {
	d.mu.Lock()
	d.writes++
	fail := d.failFrom > 0 && d.writes >= d.failFrom && d.writes <= d.failTo
	d.mu.Unlock()
	if fail {
		return errInjected
	}
	return d.Disk.Write(a, v)
}

func mkTestFs(t *testing.T, nblocks uint64) (*faultyDisk, *FS) {
	d := &faultyDisk{Disk: disk.NewMemDisk(nblocks)}
	require.NoError(t, Mkfs(d, uuid.New()))
	fs, err := Mount(d)
	require.NoError(t, err)
	return d, fs
}

func randBytes(rnd *rand.Rand, n uint64) []byte {
	b := make([]byte, n)
	rnd.Read(b)
	return b
}

func assertCorrupt(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a corruption panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, common.ErrCorruption)
	}()
	f()
}

type SfsSuite struct {
	suite.Suite
	d    *faultyDisk
	fs   *FS
	root *Vnode
	rnd  *rand.Rand
}

func (suite *SfsSuite) SetupTest() {
	suite.d, suite.fs = mkTestFs(suite.T(), testBlocks)
	root, err := suite.fs.GetRoot()
	suite.Require().NoError(err)
	suite.root = root
	suite.rnd = rand.New(rand.NewSource(1))
}

// TearDownTest also checks that the test gave back every reference.
func (suite *SfsSuite) TearDownTest() {
	suite.d.arm(0, 0)
	suite.Require().NoError(suite.root.Decref())
	suite.Require().NoError(suite.fs.Unmount())
}

func (suite *SfsSuite) restart() {
	suite.Require().NoError(suite.root.Decref())
	suite.Require().NoError(suite.fs.Unmount())
	fs, err := Mount(suite.d)
	suite.Require().NoError(err)
	suite.fs = fs
	suite.root, err = fs.GetRoot()
	suite.Require().NoError(err)
}

func (suite *SfsSuite) create(name string) *Vnode {
	vn, err := suite.root.Create(name, true)
	suite.Require().NoError(err)
	return vn
}

func (suite *SfsSuite) release(vn *Vnode) {
	suite.Require().NoError(vn.Decref())
}

func (suite *SfsSuite) names(dir *Vnode) []string {
	var names []string
	for slot := uint64(0); ; slot++ {
		name, ok, err := dir.GetDirEntry(slot)
		suite.Require().NoError(err)
		if !ok {
			return names
		}
		if name != "" {
			names = append(names, name)
		}
	}
}

func TestSfs(t *testing.T) {
	suite.Run(t, new(SfsSuite))
}

func (suite *SfsSuite) TestMkfsRoot() {
	suite.Equal([]string{".", ".."}, suite.names(suite.root))
	attr, err := suite.root.Stat()
	suite.NoError(err)
	suite.Equal(common.ROOTINUM, attr.Inum)
	suite.Equal(common.TypeDir, attr.Type)
	suite.Equal(2*common.DIRENTSZ, attr.Size)
	suite.Equal(uint64(1), attr.LinkCount)

	sb := suite.fs.Super()
	suite.Equal(testBlocks, sb.NBlocks)
	// everything but metadata and the root's one directory block is free
	suite.Equal(testBlocks-sb.DataStart()-1, suite.fs.NumFree())

	name, err := suite.root.NameFile()
	suite.NoError(err)
	suite.Equal("", name)
}

func (suite *SfsSuite) TestBmapIdempotent() {
	f := suite.create("f")
	defer suite.release(f)
	f.lock()
	defer f.unlock()

	for _, fb := range []uint64{3, common.NDIRECT + 20} {
		bn, err := f.bmap(fb, false)
		suite.NoError(err)
		suite.Equal(common.NULLBNUM, bn, "unwritten block %d should be a hole", fb)

		bn, err = f.bmap(fb, true)
		suite.NoError(err)
		suite.NotEqual(common.NULLBNUM, bn)
		suite.True(suite.fs.bused(bn))

		free := suite.fs.NumFree()
		bn2, err := f.bmap(fb, true)
		suite.NoError(err)
		suite.Equal(bn, bn2)
		bn2, err = f.bmap(fb, false)
		suite.NoError(err)
		suite.Equal(bn, bn2)
		suite.Equal(free, suite.fs.NumFree(), "mapping again should not allocate")
	}

	_, err := f.bmap(common.MAXBLOCKS, true)
	suite.ErrorIs(err, common.ErrInvalid)
	suite.NoError(f.dotruncate(0))
}

func (suite *SfsSuite) TestSplice() {
	f := suite.create("f")
	defer suite.release(f)

	bs := disk.BlockSize
	cases := []struct {
		off uint64
		n   uint64
	}{
		{0, 0},
		{0, 100},
		{100, 100},
		{bs - 50, 200},
		{0, bs},
		{bs, 3 * bs},
		{100, 3 * bs},
		{common.NDIRECT*bs - 10, 20},
		{20*bs + 5, 9000},
	}
	for _, c := range cases {
		data := randBytes(suite.rnd, c.n)
		n, err := f.Write(data, c.off)
		suite.NoError(err)
		suite.Equal(c.n, n)

		got := make([]byte, c.n)
		n, err = f.Read(got, c.off)
		suite.NoError(err)
		suite.Equal(c.n, n)
		suite.Equal(data, got, "off %d len %d", c.off, c.n)
	}

	attr, err := f.Stat()
	suite.NoError(err)
	size := attr.Size
	suite.Equal(20*bs+5+9000, size)

	// reads stop at EOF
	got := make([]byte, 100)
	n, err := f.Read(got, size-10)
	suite.NoError(err)
	suite.Equal(uint64(10), n)
	n, err = f.Read(got, size)
	suite.NoError(err)
	suite.Equal(uint64(0), n)
	n, err = f.Read(got, size+bs)
	suite.NoError(err)
	suite.Equal(uint64(0), n)

	// holes read as zeros
	hole := make([]byte, bs)
	n, err = f.Read(hole, 17*bs)
	suite.NoError(err)
	suite.Equal(bs, n)
	suite.Equal(make([]byte, bs), hole)

	_, err = f.Write([]byte{1}, common.MAXBLOCKS*bs)
	suite.ErrorIs(err, common.ErrInvalid)
	n, err = f.Write([]byte{1}, common.MAXBLOCKS*bs+100000)
	suite.ErrorIs(err, common.ErrInvalid)
	suite.Equal(uint64(0), n)
	_, err = f.Write([]byte{1, 2}, ^uint64(0))
	suite.ErrorIs(err, common.ErrInvalid)
	n, err = f.Write(nil, size+5*bs)
	suite.NoError(err)
	suite.Equal(uint64(0), n)
	after, err := f.Stat()
	suite.NoError(err)
	suite.Equal(size, after.Size, "failed or empty writes leave the size alone")

	suite.NoError(suite.root.Remove("f"))
}

func (suite *SfsSuite) TestTruncate() {
	f := suite.create("f")
	defer suite.release(f)
	bs := disk.BlockSize
	before := suite.fs.NumFree()

	data := randBytes(suite.rnd, 20*bs)
	_, err := f.Write(data, 0)
	suite.NoError(err)
	suite.Equal(before-21, suite.fs.NumFree(), "20 data blocks and an indirect block")

	suite.NoError(f.Truncate(5000))
	suite.Equal(before-2, suite.fs.NumFree())
	attr, _ := f.Stat()
	suite.Equal(uint64(5000), attr.Size)

	suite.NoError(f.Truncate(20 * bs))
	got := make([]byte, 20*bs)
	n, err := f.Read(got, 0)
	suite.NoError(err)
	suite.Equal(20*bs, n)
	suite.Equal(data[:5000], got[:5000])
	suite.Equal(make([]byte, 20*bs-5000), got[5000:], "grown region should be zero")

	suite.ErrorIs(f.Truncate(common.MAXBLOCKS*bs+1), common.ErrInvalid)
	suite.ErrorIs(suite.root.Truncate(0), common.ErrIsDir)

	suite.NoError(f.Truncate(0))
	suite.Equal(before, suite.fs.NumFree())
	suite.NoError(suite.root.Remove("f"))
}

func (suite *SfsSuite) TestDirLinkUnlink() {
	rv := suite.root
	rv.lock()
	defer rv.unlock()

	slot, err := rv.dirLink("x", 7)
	suite.NoError(err)
	ino, found, _, err := rv.findname("x")
	suite.NoError(err)
	suite.Equal(common.Inum(7), ino)
	suite.Equal(slot, found)

	_, err = rv.dirLink("x", 8)
	suite.ErrorIs(err, common.ErrAlreadyExists)

	suite.NoError(rv.dirUnlink(slot))
	_, _, empty, err := rv.findname("x")
	suite.ErrorIs(err, common.ErrNotFound)
	suite.Equal(int64(slot), empty)

	slot2, err := rv.dirLink("y", 9)
	suite.NoError(err)
	suite.Equal(slot, slot2, "first empty slot should be reused")
	suite.Equal(slot+1, rv.nentries(), "directories never shrink")

	long := make([]byte, common.NAMELEN)
	for i := range long {
		long[i] = 'n'
	}
	_, err = rv.dirLink(string(long), 10)
	suite.ErrorIs(err, common.ErrNameTooLong)
	_, err = rv.dirLink(string(long[:common.NAMELEN-1]), 10)
	suite.NoError(err)
	ino, _, _, err = rv.findname(string(long[:common.NAMELEN-1]))
	suite.NoError(err)
	suite.Equal(common.Inum(10), ino)

	// leave nothing pointing at bogus inodes
	for _, name := range []string{"y", string(long[:common.NAMELEN-1])} {
		_, s, _, err := rv.findname(name)
		suite.Require().NoError(err)
		suite.NoError(rv.dirUnlink(s))
	}
}

func (suite *SfsSuite) TestGetDirEntry() {
	a := suite.create("a")
	suite.release(a)
	suite.Equal([]string{".", "..", "a"}, suite.names(suite.root))

	suite.NoError(suite.root.Remove("a"))
	name, ok, err := suite.root.GetDirEntry(2)
	suite.NoError(err)
	suite.True(ok)
	suite.Equal("", name)
	_, ok, err = suite.root.GetDirEntry(3)
	suite.NoError(err)
	suite.False(ok)

	f := suite.create("f")
	defer suite.release(f)
	_, _, err = f.GetDirEntry(0)
	suite.ErrorIs(err, common.ErrNotDir)
	suite.NoError(suite.root.Remove("f"))
}

func (suite *SfsSuite) TestPersist() {
	f := suite.create("a")
	data := randBytes(suite.rnd, 10000)
	n, err := f.Write(data, 0)
	suite.NoError(err)
	suite.Equal(uint64(10000), n)
	suite.NoError(f.Close())
	suite.release(f)

	suite.restart()

	f, err = suite.root.Lookup("a")
	suite.Require().NoError(err)
	defer suite.release(f)
	got := make([]byte, 10000)
	n, err = f.Read(got, 0)
	suite.NoError(err)
	suite.Equal(uint64(10000), n)
	suite.Equal(data, got)
	attr, _ := f.Stat()
	suite.Equal(uint64(10000), attr.Size)
	suite.Equal(uint64(1), attr.LinkCount)
}

func (suite *SfsSuite) TestNested() {
	suite.NoError(suite.root.Mkdir("d"))
	_, err := suite.root.Lookup("x")
	suite.ErrorIs(err, common.ErrNotFound)

	d, err := suite.root.Lookup("d")
	suite.Require().NoError(err)
	defer suite.release(d)
	suite.Equal(common.TypeDir, d.Type())
	suite.Equal([]string{".", ".."}, suite.names(d))

	x, err := d.Create("x", true)
	suite.Require().NoError(err)
	suite.release(x)

	x2, err := suite.root.Lookup("d/x")
	suite.Require().NoError(err)
	suite.Equal(x.Inum(), x2.Inum())
	suite.release(x2)
	_, err = suite.root.Lookup("x")
	suite.ErrorIs(err, common.ErrNotFound)

	up, err := suite.root.Lookup("d/..")
	suite.Require().NoError(err)
	suite.Equal(suite.root, up)
	suite.release(up)
	self, err := suite.root.Lookup("/d/./")
	suite.Require().NoError(err)
	suite.Equal(d, self)
	suite.release(self)

	attr, _ := d.Stat()
	suite.Equal(uint64(1), attr.LinkCount)
	attr, _ = suite.root.Stat()
	suite.Equal(uint64(2), attr.LinkCount)

	_, err = suite.root.Lookup("d/x/y")
	suite.ErrorIs(err, common.ErrNotDir)
	suite.ErrorIs(suite.root.Mkdir("d"), common.ErrAlreadyExists)
	suite.ErrorIs(d.Rmdir("x"), common.ErrUnimplemented)
	suite.ErrorIs(suite.root.Remove("d"), common.ErrIsDir)
	_, err = d.NameFile()
	suite.ErrorIs(err, common.ErrUnimplemented)

	suite.NoError(d.Remove("x"))
}

func (suite *SfsSuite) TestLookParent() {
	suite.NoError(suite.root.Mkdir("d"))

	p, leaf, err := suite.root.LookParent("d/new")
	suite.Require().NoError(err)
	suite.Equal("new", leaf)
	suite.NotEqual(suite.root, p)
	suite.release(p)

	p, leaf, err = suite.root.LookParent("top")
	suite.Require().NoError(err)
	suite.Equal("top", leaf)
	suite.Equal(suite.root, p)
	suite.release(p)

	_, _, err = suite.root.LookParent("nope/new")
	suite.ErrorIs(err, common.ErrNotFound)
	_, _, err = suite.root.LookParent("d/" + string(make([]byte, common.NAMELEN)))
	suite.ErrorIs(err, common.ErrNameTooLong)
	_, _, err = suite.root.LookParent("/")
	suite.ErrorIs(err, common.ErrInvalid)
}

func (suite *SfsSuite) TestCreate() {
	f := suite.create("a")
	defer suite.release(f)
	attr, _ := f.Stat()
	suite.Equal(common.TypeFile, attr.Type)
	suite.Equal(uint64(1), attr.LinkCount)

	_, err := suite.root.Create("a", true)
	suite.ErrorIs(err, common.ErrAlreadyExists)
	again, err := suite.root.Create("a", false)
	suite.NoError(err)
	suite.Equal(f, again)
	suite.release(again)

	_, err = f.Create("b", false)
	suite.ErrorIs(err, common.ErrNotDir)
	_, err = suite.root.Create("..", false)
	suite.ErrorIs(err, common.ErrInvalid)
	_, err = suite.root.Create("a/b", false)
	suite.ErrorIs(err, common.ErrInvalid)

	suite.ErrorIs(f.Open(os.O_APPEND|os.O_WRONLY), common.ErrUnimplemented)
	suite.NoError(f.Open(os.O_RDWR))
	suite.ErrorIs(suite.root.Open(os.O_RDWR), common.ErrIsDir)
	suite.NoError(suite.root.Open(os.O_RDONLY))
	suite.ErrorIs(f.TrySeek(-1), common.ErrInvalid)
	suite.NoError(f.TrySeek(1 << 40))

	suite.NoError(suite.root.Remove("a"))
}

func (suite *SfsSuite) TestRemoveReclaim() {
	free := suite.fs.NumFree()
	f := suite.create("a")
	_, err := f.Write(randBytes(suite.rnd, 3*disk.BlockSize), 0)
	suite.NoError(err)
	suite.Equal(free-4, suite.fs.NumFree())

	suite.NoError(suite.root.Remove("a"))
	_, err = suite.root.Lookup("a")
	suite.ErrorIs(err, common.ErrNotFound)
	attr, _ := f.Stat()
	suite.Equal(uint64(0), attr.LinkCount)
	suite.Equal(free-4, suite.fs.NumFree(), "open file keeps its blocks")

	suite.release(f)
	suite.Equal(free, suite.fs.NumFree())

	suite.ErrorIs(suite.root.Remove("a"), common.ErrNotFound)
	suite.ErrorIs(suite.root.Remove("."), common.ErrInvalid)
}

func (suite *SfsSuite) TestLink() {
	f := suite.create("a")
	defer suite.release(f)
	_, err := f.Write([]byte("hello"), 0)
	suite.NoError(err)

	suite.NoError(suite.root.Link("b", f))
	attr, _ := f.Stat()
	suite.Equal(uint64(2), attr.LinkCount)
	suite.ErrorIs(suite.root.Link("b", f), common.ErrAlreadyExists)
	suite.ErrorIs(suite.root.Link("c", suite.root), common.ErrIsDir)

	suite.NoError(suite.root.Remove("a"))
	b, err := suite.root.Lookup("b")
	suite.Require().NoError(err)
	suite.Equal(f, b)
	got := make([]byte, 5)
	_, err = b.Read(got, 0)
	suite.NoError(err)
	suite.Equal([]byte("hello"), got)
	suite.release(b)
	suite.NoError(suite.root.Remove("b"))
}

func (suite *SfsSuite) TestRename() {
	f := suite.create("a")
	defer suite.release(f)

	suite.NoError(suite.root.Rename("a", "b"))
	_, err := suite.root.Lookup("a")
	suite.ErrorIs(err, common.ErrNotFound)
	b, err := suite.root.Lookup("b")
	suite.Require().NoError(err)
	suite.Equal(f, b)
	suite.release(b)
	attr, _ := f.Stat()
	suite.Equal(uint64(1), attr.LinkCount)

	c := suite.create("c")
	suite.release(c)
	suite.ErrorIs(suite.root.Rename("b", "c"), common.ErrAlreadyExists)
	suite.ErrorIs(suite.root.Rename("nope", "z"), common.ErrNotFound)
	suite.ErrorIs(suite.root.Rename("b", ".."), common.ErrInvalid)

	suite.NoError(suite.root.Remove("b"))
	suite.NoError(suite.root.Remove("c"))
}

func (suite *SfsSuite) TestRenameUndo() {
	f := suite.create("a")
	defer suite.release(f)
	suite.NoError(f.Fsync())

	// the new entry is written, removing the old one fails, and the new
	// entry is taken out again
	suite.d.arm(2, 2)
	err := suite.root.Rename("a", "b")
	suite.ErrorIs(err, errInjected)
	suite.d.arm(0, 0)

	a, err := suite.root.Lookup("a")
	suite.Require().NoError(err)
	suite.Equal(f, a)
	suite.release(a)
	_, err = suite.root.Lookup("b")
	suite.ErrorIs(err, common.ErrNotFound)
	attr, _ := f.Stat()
	suite.Equal(uint64(1), attr.LinkCount)

	suite.NoError(suite.root.Remove("a"))
}

func (suite *SfsSuite) TestLifecycleUnique() {
	f := suite.create("f")
	suite.release(f)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				vn, err := suite.root.Lookup("f")
				if !assert.NoError(suite.T(), err) {
					return
				}
				suite.fs.vnlock.Lock()
				resident := suite.fs.vnodes[vn.inum]
				suite.fs.vnlock.Unlock()
				assert.Equal(suite.T(), vn, resident, "live vnode must be the resident one")
				assert.NoError(suite.T(), vn.Decref())
			}
		}()
	}
	wg.Wait()

	// with a reference held across the lookups, every one is the same vnode
	held, err := suite.root.Lookup("f")
	suite.Require().NoError(err)
	for i := 0; i < 10; i++ {
		vn, err := suite.root.Lookup("f")
		suite.Require().NoError(err)
		suite.True(vn == held)
		suite.release(vn)
	}
	suite.Equal(uint64(1), held.refs())
	suite.release(held)
	suite.NoError(suite.root.Remove("f"))
}

func (suite *SfsSuite) TestReclaimBusy() {
	f := suite.create("f")
	f.Incref()
	suite.Equal(uint64(2), f.refs())

	err := suite.fs.reclaim(f)
	suite.ErrorIs(err, common.ErrBusy)
	suite.Equal(uint64(1), f.refs(), "lost reclaim consumes the caller's reference")

	suite.ErrorIs(suite.fs.Unmount(), common.ErrBusy)
	suite.release(f)
	suite.Equal(uint64(0), f.refs())
	suite.NoError(suite.root.Remove("f"))
}

func (suite *SfsSuite) TestConcurrentOps() {
	free := suite.fs.NumFree()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 10; i++ {
				name := string(rune('a'+w)) + string(rune('0'+i))
				f, err := suite.root.Create(name, true)
				if !assert.NoError(suite.T(), err) {
					return
				}
				data := randBytes(rnd, uint64(rnd.Intn(20000)))
				_, err = f.Write(data, 0)
				assert.NoError(suite.T(), err)
				got := make([]byte, len(data))
				_, err = f.Read(got, 0)
				assert.NoError(suite.T(), err)
				assert.Equal(suite.T(), data, got)
				assert.NoError(suite.T(), f.Decref())
				assert.NoError(suite.T(), suite.root.Remove(name))
			}
		}(w)
	}
	wg.Wait()
	suite.Equal(free, suite.fs.NumFree())
}

func TestNoSpace(t *testing.T) {
	_, fs := mkTestFs(t, 64)
	rv, err := fs.GetRoot()
	require.NoError(t, err)
	f, err := rv.Create("big", true)
	require.NoError(t, err)
	free := fs.NumFree()

	data := make([]byte, common.MAXBLOCKS*disk.BlockSize)
	n, err := f.Write(data, 0)
	assert.ErrorIs(t, err, common.ErrNoSpace)
	assert.Equal(t, uint64(0), fs.NumFree())
	assert.Equal(t, uint64(0), n%disk.BlockSize)
	assert.Equal(t, free-1, n/disk.BlockSize, "all but the indirect block hold data")
	attr, _ := f.Stat()
	assert.Equal(t, n, attr.Size, "partial write stays visible")

	_, err = rv.Create("more", true)
	assert.ErrorIs(t, err, common.ErrNoSpace)

	require.NoError(t, rv.Remove("big"))
	require.NoError(t, f.Decref())
	assert.Equal(t, free+1, fs.NumFree())
	require.NoError(t, rv.Decref())
	require.NoError(t, fs.Unmount())
}

func TestCorruptInode(t *testing.T) {
	_, fs := mkTestFs(t, 100)
	assertCorrupt(t, func() {
		fs.loadvnode(50, common.TypeInvalid)
	})

	// an allocated block that was never made into an inode
	bn, err := fs.balloc()
	require.NoError(t, err)
	assertCorrupt(t, func() {
		fs.loadvnode(common.Inum(bn), common.TypeInvalid)
	})
}

func TestCorruptDirectory(t *testing.T) {
	_, fs := mkTestFs(t, 100)
	rv, err := fs.GetRoot()
	require.NoError(t, err)

	assertCorrupt(t, func() {
		rv.lock()
		defer rv.unlock()
		require.NoError(t, rv.writedir(dirent{Inum: 5, Name: "dup"}, 2))
		require.NoError(t, rv.writedir(dirent{Inum: 6, Name: "dup"}, 3))
		rv.findname("dup")
	})

	assertCorrupt(t, func() {
		rv.lock()
		defer rv.unlock()
		rv.ip.Size += 1
		rv.nentries()
	})
}

func TestCorruptBmap(t *testing.T) {
	_, fs := mkTestFs(t, 100)
	rv, err := fs.GetRoot()
	require.NoError(t, err)
	assertCorrupt(t, func() {
		rv.lock()
		defer rv.unlock()
		rv.ip.Direct[1] = 60 // free
		rv.bmap(1, false)
	})
	assertCorrupt(t, func() {
		fs.bfree(60)
	})
}

func TestRenameUndoFails(t *testing.T) {
	d, fs := mkTestFs(t, 100)
	rv, err := fs.GetRoot()
	require.NoError(t, err)
	f, err := rv.Create("a", true)
	require.NoError(t, err)
	require.NoError(t, f.Fsync())

	// Locks stay held after the panic, so this filesystem is abandoned.
	d.arm(2, 3)
	assertCorrupt(t, func() {
		rv.Rename("a", "b")
	})
}

func TestMkfsTooSmall(t *testing.T) {
	err := Mkfs(disk.NewMemDisk(3), uuid.New())
	assert.ErrorIs(t, err, common.ErrInvalid)

	_, err = Mount(disk.NewMemDisk(10))
	assert.ErrorIs(t, err, common.ErrInvalid, "blank disk has no superblock")
}

func TestFileDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sfs.img")
	d, err := disk.NewFileDisk(path, 200)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, Mkfs(d, id))

	fs, err := Mount(d)
	require.NoError(t, err)
	rv, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, rv.Mkdir("d"))
	f, err := rv.Create("f", true)
	require.NoError(t, err)
	_, err = f.Write([]byte("persistent"), 3)
	require.NoError(t, err)
	require.NoError(t, f.Decref())
	require.NoError(t, rv.Decref())
	require.NoError(t, fs.Unmount())
	require.NoError(t, d.Close())

	d, err = disk.OpenFileDisk(path)
	require.NoError(t, err)
	defer d.Close()
	fs, err = Mount(d)
	require.NoError(t, err)
	assert.Equal(t, id, fs.Super().UUID)
	rv, err = fs.GetRoot()
	require.NoError(t, err)
	f, err = rv.Lookup("f")
	require.NoError(t, err)
	got := make([]byte, 13)
	n, err := f.Read(got, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), n)
	assert.Equal(t, append([]byte{0, 0, 0}, "persistent"...), got)
	dv, err := rv.Lookup("d")
	require.NoError(t, err)
	assert.Equal(t, common.TypeDir, dv.Type())
	require.NoError(t, dv.Decref())
	require.NoError(t, f.Decref())
	require.NoError(t, rv.Decref())
	require.NoError(t, fs.Unmount())
}

func TestGooseDisk(t *testing.T) {
	d := disk.FromGoose(gdisk.NewMemDisk(300))
	require.NoError(t, Mkfs(d, uuid.New()))
	fs, err := Mount(d)
	require.NoError(t, err)
	rv, err := fs.GetRoot()
	require.NoError(t, err)

	f, err := rv.Create("g", true)
	require.NoError(t, err)
	data := randBytes(rand.New(rand.NewSource(2)), 3*disk.BlockSize+17)
	_, err = f.Write(data, 0)
	require.NoError(t, err)
	got := make([]byte, len(data))
	_, err = f.Read(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, f.Decref())
	require.NoError(t, rv.Decref())
	require.NoError(t, fs.Unmount())
}
