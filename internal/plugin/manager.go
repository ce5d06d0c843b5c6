package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// Manager discovers plugins in a directory.
type Manager struct {
	pluginDir string
	log       logrus.FieldLogger

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewManager creates a Manager for pluginDir. A nil logger uses the
// standard logger.
func NewManager(pluginDir string, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		pluginDir: pluginDir,
		log:       log.WithField("component", "plugin"),
		plugins:   make(map[string]*Plugin),
	}
}

// Discover rescans the plugin directory. Each subdirectory holding a
// readable plugin.json with a name and an existing executable becomes a
// plugin; anything else is skipped and logged. A missing directory yields
// no plugins.
func (m *Manager) Discover() error {
	found := make(map[string]*Plugin)

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginPath := filepath.Join(m.pluginDir, entry.Name())
		log := m.log.WithField("path", pluginPath)

		data, err := os.ReadFile(filepath.Join(pluginPath, "plugin.json"))
		if err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).Warn("skipping plugin: unreadable manifest")
			}
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			log.WithError(err).Warn("skipping plugin: invalid manifest")
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			log.Warn("skipping plugin: manifest needs name and executable")
			continue
		}

		executable := filepath.Join(pluginPath, manifest.Executable)
		if _, err := os.Stat(executable); err != nil {
			log.WithField("executable", executable).Warn("skipping plugin: executable not built")
			continue
		}

		found[manifest.Name] = &Plugin{
			Manifest:   manifest,
			Path:       pluginPath,
			Executable: executable,
		}
		log.WithField("plugin", manifest.Name).Debug("plugin discovered")
	}

	m.mu.Lock()
	m.plugins = found
	m.mu.Unlock()
	return nil
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return plugin, nil
}

// List returns all discovered plugins sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, plugin := range m.plugins {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
