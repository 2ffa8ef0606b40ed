package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents supported configuration file formats
type ConfigFormat string

const (
	FormatJSON ConfigFormat = "json"
	FormatYAML ConfigFormat = "yaml"
)

// ChangeEvent represents a configuration file change
type ChangeEvent struct {
	File      string                 `json:"file"`
	Path      string                 `json:"path"`
	Action    string                 `json:"action"` // initial_load, create, modify, delete, rename, polling_detected, manual_reload
	Format    ConfigFormat           `json:"format"`
	Config    map[string]interface{} `json:"config"`
	Raw       []byte                 `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when a watched file changes
type ChangeHandler func(event ChangeEvent) error

// ConfigManager watches a directory of YAML/JSON files and notifies
// registered handlers when one of them is loaded, modified or removed.
type ConfigManager struct {
	configDir string
	configs   map[string]map[string]interface{}
	handlers  map[string][]ChangeHandler
	watcher   *fsnotify.Watcher
	started   bool
	stopCh    chan struct{}
	logger    *zap.Logger
	mu        sync.RWMutex
	watcherMu sync.Mutex

	validators map[string]func(raw []byte, format ConfigFormat) error

	// Polling fallback for filesystems where fsnotify is unreliable (bind mounts, NFS)
	pollInterval  time.Duration
	enablePolling bool
}

// NewConfigManager creates a new configuration manager for configDir
func NewConfigManager(configDir string, logger *zap.Logger) (*ConfigManager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	configDir = filepath.Clean(configDir)
	info, err := os.Stat(configDir)
	if err != nil {
		return nil, fmt.Errorf("stat config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", configDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigManager{
		configDir:    configDir,
		configs:      make(map[string]map[string]interface{}),
		handlers:     make(map[string][]ChangeHandler),
		validators:   make(map[string]func([]byte, ConfigFormat) error),
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		logger:       logger,
		pollInterval: 10 * time.Second,
	}, nil
}

// Start loads all files once and begins watching for changes
func (cm *ConfigManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.watcher.Add(cm.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	if err := cm.loadAllConfigs(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	cm.mu.Lock()
	cm.started = true
	loaded := len(cm.configs)
	polling := cm.enablePolling
	cm.mu.Unlock()

	go cm.watchLoop(ctx)
	if polling {
		go cm.pollLoop(ctx)
	}

	cm.logger.Info("Configuration manager started",
		zap.String("config_dir", cm.configDir),
		zap.Int("loaded_configs", loaded),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop stops watching for configuration changes
func (cm *ConfigManager) Stop() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.started {
		return cm.watcher.Close()
	}

	close(cm.stopCh)
	if err := cm.watcher.Close(); err != nil {
		cm.logger.Error("Error closing file watcher", zap.Error(err))
	}
	cm.started = false
	cm.logger.Info("Configuration manager stopped")
	return nil
}

// RegisterHandler registers a change handler for a specific file name
func (cm *ConfigManager) RegisterHandler(filename string, handler ChangeHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.handlers[filename] = append(cm.handlers[filename], handler)
	cm.logger.Info("Configuration handler registered",
		zap.String("filename", filename),
		zap.Int("total_handlers", len(cm.handlers[filename])),
	)
}

// RegisterValidator registers a validator run before a file's contents are accepted
func (cm *ConfigManager) RegisterValidator(filename string, validator func(raw []byte, format ConfigFormat) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[filename] = validator
}

// GetConfig returns a shallow copy of the last accepted contents of filename
func (cm *ConfigManager) GetConfig(filename string) (map[string]interface{}, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[filename]
	if !exists {
		return nil, false
	}
	result := make(map[string]interface{}, len(config))
	for k, v := range config {
		result[k] = v
	}
	return result, true
}

// ReloadConfig manually reloads a specific configuration file
func (cm *ConfigManager) ReloadConfig(filename string) error {
	return cm.loadConfigFile(filepath.Join(cm.configDir, filename), "manual_reload")
}

// EnablePolling enables polling fallback; call before Start
func (cm *ConfigManager) EnablePolling(interval time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.enablePolling = true
	if interval > 0 {
		cm.pollInterval = interval
	}
	cm.logger.Info("Configuration polling enabled", zap.Duration("interval", cm.pollInterval))
}

func (cm *ConfigManager) watchLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.stopCh:
			return
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			cm.handleWatchEvent(event)
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (cm *ConfigManager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(cm.pollInterval)
	defer ticker.Stop()

	lastModTimes := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.stopCh:
			return
		case <-ticker.C:
			cm.checkForChanges(lastModTimes)
		}
	}
}

func (cm *ConfigManager) checkForChanges(lastModTimes map[string]time.Time) {
	err := filepath.WalkDir(cm.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != cm.configDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isConfigFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		filename := filepath.Base(path)
		currentMod := info.ModTime()
		lastMod, seen := lastModTimes[filename]
		lastModTimes[filename] = currentMod
		if seen && currentMod.After(lastMod) {
			return cm.loadConfigFile(path, "polling_detected")
		}
		return nil
	})
	if err != nil {
		cm.logger.Error("Error during polling check", zap.Error(err))
	}
}

func (cm *ConfigManager) handleWatchEvent(event fsnotify.Event) {
	cm.watcherMu.Lock()
	defer cm.watcherMu.Unlock()

	if !isConfigFile(event.Name) {
		return
	}
	filename := filepath.Base(event.Name)

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	default:
		return
	}

	if action == "delete" || action == "rename" {
		cm.handleFileRemoval(filename, action)
		return
	}

	// editors often write in several steps
	time.Sleep(50 * time.Millisecond)
	if err := cm.loadConfigFile(event.Name, action); err != nil {
		cm.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (cm *ConfigManager) loadAllConfigs() error {
	return filepath.WalkDir(cm.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != cm.configDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isConfigFile(path) {
			return nil
		}
		if err := cm.loadConfigFile(path, "initial_load"); err != nil {
			// a broken file nobody subscribed to must not block startup
			if !cm.isRegistered(filepath.Base(path)) {
				cm.logger.Warn("Skipping unreadable config file",
					zap.String("file", filepath.Base(path)),
					zap.Error(err),
				)
				return nil
			}
			return err
		}
		return nil
	})
}

// isRegistered reports whether filename has a handler or validator
func (cm *ConfigManager) isRegistered(filename string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, hasValidator := cm.validators[filename]
	return len(cm.handlers[filename]) > 0 || hasValidator
}

// loadConfigFile parses and validates a file, stores it, then runs its handlers.
// Handlers run synchronously so a rejected file never leaves a half-applied state.
func (cm *ConfigManager) loadConfigFile(filePath, action string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	format := detectFormat(filename)
	config := make(map[string]interface{})
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", filename, err)
		}
	}

	cm.mu.RLock()
	validator := cm.validators[filename]
	cm.mu.RUnlock()
	if validator != nil {
		if err := validator(data, format); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	cm.mu.Lock()
	cm.configs[filename] = config
	handlers := make([]ChangeHandler, len(cm.handlers[filename]))
	copy(handlers, cm.handlers[filename])
	cm.mu.Unlock()

	event := ChangeEvent{
		File:      filename,
		Path:      filePath,
		Action:    action,
		Format:    format,
		Config:    config,
		Raw:       data,
		Timestamp: time.Now(),
	}
	for _, h := range handlers {
		if err := h(event); err != nil {
			cm.logger.Error("Configuration handler error",
				zap.String("filename", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}

	cm.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.String("format", string(format)),
		zap.Int("keys", len(config)),
	)
	return nil
}

func (cm *ConfigManager) handleFileRemoval(filename, action string) {
	cm.mu.Lock()
	config := cm.configs[filename]
	delete(cm.configs, filename)
	handlers := make([]ChangeHandler, len(cm.handlers[filename]))
	copy(handlers, cm.handlers[filename])
	cm.mu.Unlock()

	event := ChangeEvent{
		File:      filename,
		Path:      filepath.Join(cm.configDir, filename),
		Action:    action,
		Format:    detectFormat(filename),
		Config:    config,
		Timestamp: time.Now(),
	}
	for _, h := range handlers {
		if err := h(event); err != nil {
			cm.logger.Error("Configuration handler error on removal",
				zap.String("filename", filename),
				zap.Error(err),
			)
		}
	}
	cm.logger.Info("Configuration file removed", zap.String("filename", filename))
}

func isConfigFile(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

func detectFormat(filename string) ConfigFormat {
	if filepath.Ext(filename) == ".json" {
		return FormatJSON
	}
	return FormatYAML
}
