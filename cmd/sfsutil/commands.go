package main

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mit-pdos/go-sfs/common"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/sfs"
	"github.com/mit-pdos/go-sfs/util"
)

func mkfs(c *cli.Context) error {
	cfg := state(c).cfg
	blocks := cfg.Disk.Blocks
	if c.IsSet("blocks") {
		blocks = c.Uint64("blocks")
	}
	d, err := disk.NewFileDisk(cfg.Disk.Path, blocks)
	if err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Disk.Path, err)
	}
	defer d.Close()

	id := uuid.New()
	if err := sfs.Mkfs(d, id); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"image":  cfg.Disk.Path,
		"blocks": blocks,
		"volume": id,
	}).Info("created filesystem")
	return nil
}

func ls(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	dir, err := root.Lookup(c.Args().First())
	if err != nil {
		return err
	}
	defer dir.Decref()

	dirColor := color.New(color.FgBlue, color.Bold)
	w := c.App.Writer
	for slot := uint64(0); ; slot++ {
		name, ok, err := dir.GetDirEntry(slot)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if name == "" {
			continue
		}
		vn, err := dir.Lookup(name)
		if err != nil {
			return err
		}
		attr, err := vn.Stat()
		vn.Decref()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%6d %8d ", attr.Inum, attr.Size)
		if attr.Type == common.TypeDir {
			dirColor.Fprintln(w, name+"/")
		} else {
			fmt.Fprintln(w, name)
		}
	}
}

func cat(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	f, err := root.Lookup(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Decref()

	p := make([]byte, 16*disk.BlockSize)
	var off uint64
	for {
		n, err := f.Read(p, off)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := c.App.Writer.Write(p[:n]); err != nil {
			return err
		}
		off += n
	}
}

func write(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	dir, name, err := root.LookParent(c.Args().First())
	if err != nil {
		return err
	}
	defer dir.Decref()
	f, err := dir.Create(name, false)
	if err != nil {
		return err
	}
	defer f.Decref()

	n, err := f.Write(data, c.Uint64("offset"))
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), err)
	}
	return f.Close()
}

func mkdir(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	dir, name, err := root.LookParent(c.Args().First())
	if err != nil {
		return err
	}
	defer dir.Decref()
	return dir.Mkdir(name)
}

func rm(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	dir, name, err := root.LookParent(c.Args().First())
	if err != nil {
		return err
	}
	defer dir.Decref()
	return dir.Remove(name)
}

func mv(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	d1, n1, err := root.LookParent(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer d1.Decref()
	d2, n2, err := root.LookParent(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer d2.Decref()
	if d1 != d2 {
		return fmt.Errorf("rename across directories: %w", common.ErrUnimplemented)
	}
	return d1.Rename(n1, n2)
}

func ln(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	target, err := root.Lookup(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer target.Decref()
	dir, name, err := root.LookParent(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer dir.Decref()
	return dir.Link(name, target)
}

func stat(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	vn, err := root.Lookup(c.Args().First())
	if err != nil {
		return err
	}
	defer vn.Decref()
	attr, err := vn.Stat()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "inode: %d\ntype: %v\nsize: %d\nlinks: %d\n",
		attr.Inum, attr.Type, attr.Size, attr.LinkCount)
	return nil
}

func truncate(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	length, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("bad length %q: %w", c.Args().Get(1), common.ErrInvalid)
	}
	f, err := root.Lookup(c.Args().First())
	if err != nil {
		return err
	}
	defer f.Decref()
	return f.Truncate(length)
}

func df(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	sb := fs.Super()
	free := fs.NumFree()
	fmt.Fprintf(c.App.Writer, "volume: %v\nblocks: %d\nused: %d\nfree: %d\n",
		sb.UUID, sb.NBlocks, sb.NBlocks-free, free)
	return nil
}

// stress runs workers that each create, fill, check and remove their own
// files, all at once in the root directory.
func stress(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error {
	cfg := state(c).cfg.Stress
	workers, files := cfg.Workers, cfg.Files
	if c.IsSet("workers") {
		workers = c.Int("workers")
	}
	if c.IsSet("files") {
		files = c.Int("files")
	}
	before := fs.NumFree()
	dirBefore, err := dirBlocks(root)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < files; i++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				name := fmt.Sprintf("stress-%d-%d", w, i)
				if err := stressOne(root, name, rnd); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// The root directory may have grown to hold the workers' names.
	dirAfter, err := dirBlocks(root)
	if err != nil {
		return err
	}
	leaked := int64(before) - int64(fs.NumFree()) - int64(dirAfter-dirBefore)
	logrus.WithFields(logrus.Fields{
		"workers": workers,
		"files":   workers * files,
		"leaked":  leaked,
	}).Info("stress done")
	if leaked != 0 {
		return fmt.Errorf("stress leaked %d blocks", leaked)
	}
	return nil
}

func dirBlocks(dir *sfs.Vnode) (uint64, error) {
	attr, err := dir.Stat()
	if err != nil {
		return 0, err
	}
	return util.RoundUp(attr.Size, disk.BlockSize), nil
}

func stressOne(dir *sfs.Vnode, name string, rnd *rand.Rand) error {
	f, err := dir.Create(name, true)
	if err != nil {
		return err
	}
	data := make([]byte, rnd.Intn(int(4*disk.BlockSize)))
	rnd.Read(data)
	if _, err := f.Write(data, uint64(rnd.Intn(int(disk.BlockSize)))); err != nil {
		f.Decref()
		return err
	}
	attr, _ := f.Stat()
	got := make([]byte, len(data))
	if _, err := f.Read(got, attr.Size-uint64(len(data))); err != nil {
		f.Decref()
		return err
	}
	if err := f.Decref(); err != nil {
		return err
	}
	if !bytes.Equal(data, got) {
		return fmt.Errorf("read back different data")
	}
	return dir.Remove(name)
}
