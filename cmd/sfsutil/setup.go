package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-sfs/config"
	"github.com/mit-pdos/go-sfs/disk"
	"github.com/mit-pdos/go-sfs/sfs"
	"github.com/mit-pdos/go-sfs/util"
)

type appState struct {
	cfg *config.Config
}

func state(c *cli.Context) *appState {
	return c.App.Metadata["state"].(*appState)
}

// setup loads the config and applies the logging settings before any
// command runs.
func setup(c *cli.Context) error {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		cfg = config.MustLoad(path)
	} else {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
	}
	if c.IsSet("disk") {
		cfg.Disk.Path = c.String("disk")
	}
	if c.IsSet("debug") {
		cfg.Log.Debug = c.Uint64("debug")
	}

	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	util.SetDebug(cfg.Log.Debug)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata["state"] = &appState{cfg: cfg}
	return nil
}

type fsAction func(c *cli.Context, fs *sfs.FS, root *sfs.Vnode) error

// withFS mounts the configured image around f and unmounts it afterwards.
func withFS(f fsAction) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		path := state(c).cfg.Disk.Path
		d, err := disk.OpenFileDisk(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer func() {
			err = errors.Join(err, d.Close())
		}()

		fs, err := sfs.Mount(d)
		if err != nil {
			return err
		}
		root, err := fs.GetRoot()
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"image":  path,
			"volume": fs.Super().UUID,
		}).Debug("mounted")

		err = f(c, fs, root)
		if derr := root.Decref(); derr != nil {
			return errors.Join(err, derr)
		}
		return errors.Join(err, fs.Unmount())
	}
}
