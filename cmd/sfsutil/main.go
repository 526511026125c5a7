package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-sfs/common"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, common.ErrCorruption) {
				logrus.WithError(err).Fatal("filesystem is corrupt")
			}
			panic(r)
		}
	}()

	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sfsutil",
		Usage: "create and manipulate sfs disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file; settings otherwise come from SFS_* variables",
			},
			&cli.StringFlag{
				Name:  "disk",
				Usage: "disk image path, overriding the config",
			},
			&cli.Uint64Flag{
				Name:  "debug",
				Usage: "debug level, overriding the config",
			},
		},
		Before: setup,
		Commands: []*cli.Command{{
			Name:  "mkfs",
			Usage: "create a new image holding an empty filesystem",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:  "blocks",
					Usage: "image size in blocks, overriding the config",
				},
			},
			Action: mkfs,
		}, {
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[DIR]",
			Action:    withFS(ls),
		}, {
			Name:      "cat",
			Usage:     "print a file",
			ArgsUsage: "FILE",
			Action:    withFS(cat),
		}, {
			Name:      "write",
			Usage:     "write standard input into a file, creating it if needed",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "offset", Usage: "byte offset to write at"},
			},
			Action: withFS(write),
		}, {
			Name:      "mkdir",
			Usage:     "create a directory",
			ArgsUsage: "DIR",
			Action:    withFS(mkdir),
		}, {
			Name:      "rm",
			Aliases:   []string{"remove"},
			Usage:     "remove a file",
			ArgsUsage: "FILE",
			Action:    withFS(rm),
		}, {
			Name:      "mv",
			Aliases:   []string{"rename"},
			Usage:     "rename a file within its directory",
			ArgsUsage: "OLD NEW",
			Action:    withFS(mv),
		}, {
			Name:      "ln",
			Aliases:   []string{"link"},
			Usage:     "make a hard link to a file",
			ArgsUsage: "TARGET NEW",
			Action:    withFS(ln),
		}, {
			Name:      "stat",
			Usage:     "show inode details",
			ArgsUsage: "PATH",
			Action:    withFS(stat),
		}, {
			Name:      "truncate",
			Usage:     "set the length of a file",
			ArgsUsage: "FILE LENGTH",
			Action:    withFS(truncate),
		}, {
			Name:   "df",
			Usage:  "show free space",
			Action: withFS(df),
		}, {
			Name:  "stress",
			Usage: "run concurrent create/write/read/remove workers",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "workers", Usage: "number of workers, overriding the config"},
				&cli.IntFlag{Name: "files", Usage: "files per worker, overriding the config"},
			},
			Action: withFS(stress),
		}},
	}
}

func needArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: expected %d arguments, got %d", c.Command.Name, n, c.NArg())
	}
	return nil
}
