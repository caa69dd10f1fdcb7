// Package plugins loads the plugin manifest and wires declared handlers
// into the dispatchers. Handlers are resolved through an explicit factory
// table built at load time; a manifest entry naming an unknown factory is
// a startup error, not a runtime surprise.
package plugins

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/overbridge/chatgate/internal/dispatcher"
	"github.com/overbridge/chatgate/internal/security"
)

const (
	KindMessage = "message"
	KindEvent   = "event"
)

// Spec is one manifest entry. Priority orders dispatch fan-out, ascending,
// 1 most urgent.
type Spec struct {
	Name     string         `yaml:"name"`
	Package  string         `yaml:"package"`
	Version  string         `yaml:"version"`
	Priority int            `yaml:"priority"`
	Kind     string         `yaml:"kind"`
	Settings map[string]any `yaml:"settings"`
}

type Manifest struct {
	Plugins []Spec `yaml:"plugins"`
}

// LoadManifest reads and validates the manifest file and returns its
// entries sorted by ascending priority. The sort is stable, so file order
// is preserved among equal priorities.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read plugin manifest: %w", err)
	}
	manifest := Manifest{}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse plugin manifest: %w", err)
	}
	for i := range manifest.Plugins {
		spec := &manifest.Plugins[i]
		if spec.Name == "" {
			return Manifest{}, fmt.Errorf("plugin manifest entry %d has no name", i)
		}
		if spec.Kind == "" {
			spec.Kind = KindMessage
		}
		if spec.Kind != KindMessage && spec.Kind != KindEvent {
			return Manifest{}, fmt.Errorf("plugin %s: unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.Priority < 1 {
			return Manifest{}, fmt.Errorf("plugin %s: priority must be >= 1", spec.Name)
		}
	}
	sort.SliceStable(manifest.Plugins, func(i, j int) bool {
		return manifest.Plugins[i].Priority < manifest.Plugins[j].Priority
	})
	return manifest, nil
}

// DefaultManifest covers the built-in handlers, used when no manifest file
// is configured.
func DefaultManifest() Manifest {
	return Manifest{Plugins: []Spec{
		{Name: "logout", Package: "chatgate-logout", Version: "1.0.0", Priority: 1, Kind: KindMessage},
		{Name: "whoami", Package: "chatgate-whoami", Version: "1.0.0", Priority: 2, Kind: KindMessage},
		{Name: "help", Package: "chatgate-help", Version: "1.0.0", Priority: 3, Kind: KindMessage},
	}}
}

// Deps is what factories may close over. Handlers get everything else per
// invocation through the dispatch envelope.
type Deps struct {
	Security *security.Manager
	BotName  string
	Logger   *slog.Logger
}

// Factory builds one handler from its manifest entry.
type Factory func(deps Deps, spec Spec) (dispatcher.Handler, error)

// Registry is the plugin-resolution table, built once at load time.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in handlers.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{
		"logout": newLogoutHandler,
		"whoami": newWhoamiHandler,
		"help":   newHelpHandler,
	}}
}

// Add registers an external factory. Later additions override built-ins of
// the same name.
func (r *Registry) Add(name string, factory Factory) {
	r.factories[name] = factory
}

// Resolve looks up a factory by manifest name.
func (r *Registry) Resolve(name string) (Factory, bool) {
	factory, ok := r.factories[name]
	return factory, ok
}

// Register resolves every manifest entry and registers the built handlers
// with the matching dispatcher. Entries arrive priority-sorted from
// LoadManifest, so registration order is preserved among equal priorities.
func (r *Registry) Register(manifest Manifest, deps Deps, messages *dispatcher.MessageDispatcher, events *dispatcher.EventDispatcher) error {
	for _, spec := range manifest.Plugins {
		factory, ok := r.Resolve(spec.Name)
		if !ok {
			return fmt.Errorf("plugin %s: no factory registered", spec.Name)
		}
		handler, err := factory(deps, spec)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", spec.Name, err)
		}
		entry := dispatcher.Entry{
			Name: spec.Name,
			Plugin: dispatcher.PluginInfo{
				Package:  spec.Package,
				Version:  spec.Version,
				Priority: spec.Priority,
			},
			Handler: handler,
		}
		switch spec.Kind {
		case KindEvent:
			events.Register(entry)
		default:
			messages.Register(entry)
		}
		deps.Logger.Info("plugin registered",
			"name", spec.Name, "package", spec.Package, "version", spec.Version,
			"priority", spec.Priority, "kind", spec.Kind)
	}
	return nil
}
