package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/najoast/wtask/logger"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 200 * time.Millisecond

// ConfigChangeCallback is called after a successful reload
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// Watcher reloads a configuration file when it changes on disk.
//
// The directory holding the file is watched rather than the file itself so
// that editors replacing the file through a rename are noticed. Reloads and
// callbacks run on one goroutine, in the order the changes happened.
type Watcher struct {
	path   string
	loader *Loader

	mu       sync.RWMutex
	current  *Config
	debounce time.Duration

	callbacksMu sync.Mutex
	callbacks   []ConfigChangeCallback

	fs       *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	log *zap.Logger
}

// NewWatcher loads configFile and prepares a watcher for it. Nothing is
// watched until Start.
func NewWatcher(configFile string, loader *Loader) (*Watcher, error) {
	if _, err := formatOf(configFile); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}

	path, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	initial, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file system watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		loader:   loader,
		current:  initial,
		debounce: DefaultDebounce,
		fs:       fs,
		done:     make(chan struct{}),
		log:      logger.Named("config").With(zap.String("file", path)),
	}, nil
}

// SetDebounce changes the settle time, call before Start
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Start starts watching
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.mu.RLock()
	debounce := w.debounce
	w.mu.RUnlock()

	w.wg.Add(1)
	go w.loop(debounce)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// GetConfig returns the last configuration loaded successfully
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnConfigChange registers a callback for configuration changes
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload reloads the file now. A file that fails to load or validate keeps
// the previous configuration in place.
func (w *Watcher) Reload() error {
	next, err := w.loader.LoadFromFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	w.log.Info("configuration reloaded")
	w.notify(prev, next)
	return nil
}

func (w *Watcher) loop(debounce time.Duration) {
	defer w.wg.Done()

	// armed by a relevant event, fires once writes settle
	settle := time.NewTimer(debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Remove) {
				w.log.Warn("config file removed, keeping the current configuration")
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				settle.Reset(debounce)
			}

		case <-settle.C:
			if err := w.Reload(); err != nil {
				w.log.Error("failed to reload config", zap.Error(err))
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) notify(prev, next *Config) {
	w.callbacksMu.Lock()
	callbacks := append([]ConfigChangeCallback(nil), w.callbacks...)
	w.callbacksMu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("config change callback panicked", zap.Any("panic", r))
				}
			}()
			cb(prev, next)
		}()
	}
}

// ErrNoWatch is returned by Watch on a provider without a file
var ErrNoWatch = errors.New("no configuration file to watch")

// Provider supplies a configuration and its later versions
type Provider interface {
	Load() (*Config, error)

	// Watch calls callback after every reload until ctx is done
	Watch(ctx context.Context, callback ConfigChangeCallback) error

	Close() error
}

// FileProvider serves one file, or the discovered one when no file is named
type FileProvider struct {
	loader  *Loader
	watcher *Watcher
}

// NewFileProvider creates a provider for configFile. An empty name falls
// back to Loader.AutoLoad and cannot be watched.
func NewFileProvider(configFile string) (*FileProvider, error) {
	fp := &FileProvider{loader: NewLoader()}
	if configFile == "" {
		return fp, nil
	}

	w, err := NewWatcher(configFile, fp.loader)
	if err != nil {
		return nil, err
	}
	fp.watcher = w
	return fp, nil
}

func (fp *FileProvider) Load() (*Config, error) {
	if fp.watcher == nil {
		return fp.loader.AutoLoad()
	}
	return fp.watcher.GetConfig(), nil
}

func (fp *FileProvider) Watch(ctx context.Context, callback ConfigChangeCallback) error {
	if fp.watcher == nil {
		return ErrNoWatch
	}
	fp.watcher.OnConfigChange(callback)
	if err := fp.watcher.Start(); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			fp.watcher.Stop()
		case <-fp.watcher.done:
		}
	}()
	return nil
}

func (fp *FileProvider) Close() error {
	if fp.watcher == nil {
		return nil
	}
	return fp.watcher.Stop()
}
