package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MikhailWahib/stratadb/internal/lsm"
	"github.com/MikhailWahib/stratadb/internal/manifest"
	"github.com/MikhailWahib/stratadb/internal/run"
	"github.com/MikhailWahib/stratadb/internal/wal"
)

// restore reloads the levels recorded in the manifest, removes run files
// the manifest does not know, and replays the log into the buffer.
func (e *Engine) restore() error {
	m, err := e.manifest.Load()
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		m = &manifest.Manifest{}
	case err != nil:
		return err
	}
	if len(m.Levels) > e.cfg.Depth {
		for _, ids := range m.Levels[e.cfg.Depth:] {
			if len(ids) > 0 {
				return fmt.Errorf("engine: manifest has %d levels, config allows %d", len(m.Levels), e.cfg.Depth)
			}
		}
	}

	live := make(map[string]struct{})
	for level, ids := range m.Levels {
		if len(ids) == 0 {
			continue
		}
		runs := make([]lsm.Run, 0, len(ids))
		for _, id := range ids {
			r, err := e.runs.Open(level, id)
			if err != nil {
				for _, opened := range runs {
					_ = opened.Release()
				}
				return fmt.Errorf("engine: open run %s at level %d: %w", id, level, err)
			}
			runs = append(runs, r)
			live[id] = struct{}{}
		}
		if err := e.tree.Load(level, runs); err != nil {
			return err
		}
	}

	e.removeOrphans(live)

	e.wal, err = wal.Open(e.walPath(), wal.Options{
		Sync:   e.cfg.SyncWAL,
		Logger: e.cfg.Logger.With("component", "wal"),
	})
	if err != nil {
		return fmt.Errorf("engine: open wal: %w", err)
	}
	entries, err := e.wal.Replay()
	if err != nil {
		return err
	}

	// The log already holds the replayed entries, so they go straight into
	// the tree. A flush during replay keeps the log; the next flush after
	// open resets it.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.replaying = true
	defer func() { e.replaying = false }()
	for _, entry := range entries {
		if err := e.tree.Put(entry); err != nil {
			return fmt.Errorf("engine: replay: %w", err)
		}
	}

	e.logger.Info("engine opened", "dir", e.dataDir, "runs", m.Runs(), "replayed", len(entries))
	return nil
}

// removeOrphans deletes run files left behind by a crash between writing a
// run and recording it, and manifest temp files from interrupted saves.
func (e *Engine) removeOrphans(live map[string]struct{}) {
	for level := range e.cfg.Depth {
		dir := e.runs.LevelDir(level)
		files, err := e.dm.List(dir, run.Ext)
		if err != nil {
			continue
		}
		for _, name := range files {
			id := strings.TrimSuffix(name, run.Ext)
			if _, ok := live[id]; ok {
				continue
			}
			path := filepath.Join(dir, name)
			if err := e.dm.Remove(path); err != nil {
				e.logger.Error("remove orphan run", "path", path, "error", err)
				continue
			}
			e.logger.Debug("removed orphan run", "path", path)
		}
	}

	tmps, err := e.dm.List(e.dataDir, ".tmp")
	if err != nil {
		return
	}
	for _, name := range tmps {
		if !strings.HasPrefix(name, manifest.FileName) {
			continue
		}
		path := filepath.Join(e.dataDir, name)
		if err := e.dm.Remove(path); err != nil {
			e.logger.Error("remove manifest temp file", "path", path, "error", err)
		}
	}
}
