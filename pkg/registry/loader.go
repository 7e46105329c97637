package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openrules/openrules/pkg/engine"
)

// Bundle is the document shape of a configuration file: any mix of
// field configs and entity types.
type Bundle struct {
	Fields      []*engine.FieldConfig `json:"fields"`
	EntityTypes []*engine.EntityType  `json:"entityTypes"`
}

// LoadReport summarizes one load pass.
type LoadReport struct {
	Files       []string
	Fields      int
	EntityTypes int
	Errors      []error
}

// Loader reads CUE, YAML and JSON bundles from disk and registers their
// contents. A file that fails to parse or validate is reported and
// skipped; the rest of the directory still loads.
type Loader struct {
	target Writer
	cue    *cue.Context
	logger zerolog.Logger

	mu       sync.Mutex
	watchers []*fsnotify.Watcher
}

// NewLoader creates a loader that registers into target.
func NewLoader(target Writer, logger zerolog.Logger) *Loader {
	return &Loader{
		target: target,
		cue:    cuecontext.New(),
		logger: logger.With().Str("component", "registry-loader").Logger(),
	}
}

func loadableFile(path string) bool {
	switch filepath.Ext(path) {
	case ".cue", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadDir loads every bundle file under dir.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*LoadReport, error) {
	report := &LoadReport{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !loadableFile(path) {
			return nil
		}
		if err := l.LoadFile(ctx, path, report); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("bundle file skipped")
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", path, err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	l.logger.Info().Int("files", len(report.Files)).
		Int("fields", report.Fields).Int("entityTypes", report.EntityTypes).
		Int("errors", len(report.Errors)).Msg("bundles loaded")
	return report, nil
}

// LoadFile loads one bundle file into the target registry.
func (l *Loader) LoadFile(ctx context.Context, path string, report *LoadReport) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var bundle Bundle
	switch filepath.Ext(path) {
	case ".cue":
		err = l.decodeCUE(path, data, &bundle)
	case ".yaml", ".yml":
		err = decodeYAML(data, &bundle)
	case ".json":
		err = json.Unmarshal(data, &bundle)
	default:
		return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	for _, cfg := range bundle.Fields {
		if err := l.target.SaveFieldConfig(ctx, cfg); err != nil {
			return fmt.Errorf("field %q: %w", cfg.FieldName, err)
		}
	}
	for _, et := range bundle.EntityTypes {
		if err := l.target.SaveEntityType(ctx, et); err != nil {
			return fmt.Errorf("entity type %q: %w", et.TypeName, err)
		}
	}

	if report != nil {
		report.Files = append(report.Files, path)
		report.Fields += len(bundle.Fields)
		report.EntityTypes += len(bundle.EntityTypes)
	}
	return nil
}

func (l *Loader) decodeCUE(path string, data []byte, bundle *Bundle) error {
	val := l.cue.CompileString(string(data), cue.Filename(path))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := val.Decode(bundle); err != nil {
		return fmt.Errorf("failed to decode CUE bundle: %w", err)
	}
	return nil
}

// decodeYAML round-trips through JSON so the engine types' json tags
// apply to YAML documents too.
func decodeYAML(data []byte, bundle *Bundle) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-encode YAML: %w", err)
	}
	if err := json.Unmarshal(encoded, bundle); err != nil {
		return fmt.Errorf("failed to decode bundle: %w", err)
	}
	return nil
}

// Watch reloads bundle files under dir when they change. Each call
// starts its own background watcher, so several directories can be
// watched concurrently. It returns after starting the watcher; cancel
// ctx or call StopWatching to stop it.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	l.mu.Lock()
	l.watchers = append(l.watchers, watcher)
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, dir)

	l.logger.Info().Str("dir", dir).Msg("watching bundle directory")
	return nil
}

// processEvents debounces one watcher's change events into
// whole-directory reloads.
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, dir string) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !loadableFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).
				Msg("bundle file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if _, err := l.LoadDir(ctx, dir); err != nil {
					l.logger.Error().Err(err).Msg("bundle reload failed")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// StopWatching stops every background watcher.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, watcher := range l.watchers {
		if err := watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.watchers = nil
	return firstErr
}
