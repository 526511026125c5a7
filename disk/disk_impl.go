package disk

import (
	"fmt"

	gdisk "github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-sfs/shardmap"
)

func checkBlock(op string, a uint64, b Block, numBlocks uint64) error {
	if uint64(len(b)) != BlockSize {
		return fmt.Errorf("%s block %d: buffer is not block-sized (%d bytes)", op, a, len(b))
	}
	if a >= numBlocks {
		return fmt.Errorf("%s block %d: out of bounds (size %d)", op, a, numBlocks)
	}
	return nil
}

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// NewFileDisk opens (creating if needed) a disk image backed by path,
// sized to numBlocks.
func NewFileDisk(path string, numBlocks uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && uint64(stat.Size) != numBlocks*BlockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	}
	return &fileDisk{fd, numBlocks}, nil
}

// OpenFileDisk opens an existing disk image, taking its size from the file.
func OpenFileDisk(path string) (Disk, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return NewFileDisk(path, uint64(stat.Size)/BlockSize)
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock("read", a, buf, d.numBlocks); err != nil {
		return err
	}
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read block %d: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("read block %d: short read (%d bytes)", a, n)
	}
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if err := checkBlock("write", a, v, d.numBlocks); err != nil {
		return err
	}
	n, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("write block %d: short write (%d bytes)", a, n)
	}
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("file sync failed: %w", err)
	}
	return nil
}

func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}

var _ Disk = (*memDisk)(nil)

// memDisk keeps only the blocks that have been written, so a large
// in-memory disk costs nothing until it is used.
type memDisk struct {
	numBlocks uint64
	blocks    *shardmap.BlockMap
}

func NewMemDisk(numBlocks uint64) Disk {
	return &memDisk{numBlocks: numBlocks, blocks: shardmap.MkBlockMap()}
}

func (d *memDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock("read", a, buf, d.numBlocks); err != nil {
		return err
	}
	d.blocks.ReadTo(a, buf)
	return nil
}

func (d *memDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *memDisk) Write(a uint64, v Block) error {
	if err := checkBlock("write", a, v, d.numBlocks); err != nil {
		return err
	}
	d.blocks.Write(a, v)
	return nil
}

func (d *memDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *memDisk) Barrier() error { return nil }

func (d *memDisk) Close() error { return nil }

var _ Disk = (*gooseDisk)(nil)

// gooseDisk adapts a goose machine disk, whose operations cannot fail.
type gooseDisk struct {
	d gdisk.Disk
}

// FromGoose wraps a goose disk (e.g. gdisk.NewMemDisk) as a Disk.
func FromGoose(d gdisk.Disk) Disk {
	return &gooseDisk{d: d}
}

func (d *gooseDisk) ReadTo(a uint64, buf Block) error {
	if err := checkBlock("read", a, buf, d.d.Size()); err != nil {
		return err
	}
	copy(buf, d.d.Read(a))
	return nil
}

func (d *gooseDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *gooseDisk) Write(a uint64, v Block) error {
	if err := checkBlock("write", a, v, d.d.Size()); err != nil {
		return err
	}
	d.d.Write(a, v)
	return nil
}

func (d *gooseDisk) Size() (uint64, error) {
	return d.d.Size(), nil
}

func (d *gooseDisk) Barrier() error {
	d.d.Barrier()
	return nil
}

func (d *gooseDisk) Close() error {
	d.d.Close()
	return nil
}
