package main

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/uvatlas/internal/config"
	"github.com/Faultbox/uvatlas/internal/logger"
)

// settle is how long an input must stay unchanged before it is unwrapped again.
const settle = 250 * time.Millisecond

func cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	glb := fs.Bool("glb", false, "Also write a binary glTF")
	png := fs.Bool("png", false, "Also write a PNG preview of every page")
	cfg, err := setup(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("usage: uvatlas watch [options] <in.obj>...")
	}
	cfg.Output.GLB = cfg.Output.GLB || *glb
	cfg.Output.Preview = cfg.Output.Preview || *png
	return watch(ctx, cfg, fs.Args(), logger.Named("watch"))
}

// watch unwraps every input once, then again after each change until ctx ends.
// Directories are watched rather than files so editors that replace files on
// save are still seen.
func watch(ctx context.Context, cfg *config.Config, inputs []string, log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	targets := make(map[string]bool, len(inputs))
	dirs := make(map[string]bool)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := w.Add(dir); err != nil {
				return err
			}
			dirs[dir] = true
		}
	}

	run := func(path string) {
		if _, err := unwrapFile(ctx, cfg, path, "", log); err != nil {
			log.Error("unwrap failed", zap.String("input", path), zap.Error(err))
		}
	}
	for _, in := range sortedKeys(targets) {
		run(in)
	}
	log.Info("watching", zap.Int("files", len(targets)), zap.Int("dirs", len(dirs)))

	timer := time.NewTimer(settle)
	timer.Stop()
	dirty := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			path, _ := filepath.Abs(ev.Name)
			if !targets[path] || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)) {
				continue
			}
			log.Debug("input changed", zap.String("input", path), zap.Stringer("op", ev.Op))
			dirty[path] = true
			timer.Reset(settle)
		case <-timer.C:
			for _, path := range sortedKeys(dirty) {
				run(path)
			}
			clear(dirty)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
