package eventrx

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rbaliyan/eventrx/payload"
	"gopkg.in/yaml.v3"
)

// Registry holds event maps by name.
// It is safe for concurrent use.
type Registry struct {
	id   string
	mu   sync.RWMutex
	maps map[string]EventMap
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		id:   NewID(),
		maps: make(map[string]EventMap),
	}
}

// ID returns the registry identifier.
func (r *Registry) ID() string {
	return r.id
}

// Register stores a copy of m under m.Name.
// Returns ErrInvalidEventMap if m is unnamed or invalid and ErrMapExists if
// the name is taken.
func (r *Registry) Register(m EventMap) error {
	if m.Name == "" {
		return fmt.Errorf("%w: map name is empty", ErrInvalidEventMap)
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.maps[m.Name]; ok {
		return fmt.Errorf("%w: %q", ErrMapExists, m.Name)
	}
	r.maps[m.Name] = m.Clone()
	return nil
}

// Lookup returns a copy of the map registered under name.
func (r *Registry) Lookup(name string) (EventMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.maps[name]
	if !ok {
		return EventMap{}, fmt.Errorf("%w: %q", ErrMapNotFound, name)
	}
	return m.Clone(), nil
}

// Unregister removes the map registered under name and reports whether it
// existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.maps[name]; !ok {
		return false
	}
	delete(r.maps, name)
	return true
}

// Names returns the registered map names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.maps))
	for name := range r.maps {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Load parses YAML map definitions from rd and registers them all. Nothing
// is registered if parsing fails; registration stops at the first conflict.
func (r *Registry) Load(rd io.Reader) error {
	maps, err := LoadMaps(rd)
	if err != nil {
		return err
	}
	for _, m := range maps {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// defaultRegistry holds the predefined maps.
var defaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range PredefinedMaps() {
		if err := r.Register(m); err != nil {
			panic("eventrx: " + err.Error())
		}
	}
	return r
}

// DefaultRegistry returns the registry used by the package-level functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// RegisterMap registers m in the default registry.
func RegisterMap(m EventMap) error {
	return defaultRegistry.Register(m)
}

// LookupMap returns a map from the default registry.
func LookupMap(name string) (EventMap, error) {
	return defaultRegistry.Lookup(name)
}

// UnregisterMap removes a map from the default registry.
func UnregisterMap(name string) bool {
	return defaultRegistry.Unregister(name)
}

// MapNames returns the names in the default registry.
func MapNames() []string {
	return defaultRegistry.Names()
}

// mapFile is the YAML layout accepted by LoadMaps.
//
//	maps:
//	  - name: socket
//	    nexts: [data]
//	    errors: [error]
//	    completes: [end, close]
//	    projector: identity
//	  - name: orders
//	    nexts: [message]
//	    codec: application/json
type mapFile struct {
	Maps []mapDef `yaml:"maps"`
}

type mapDef struct {
	Name      string   `yaml:"name"`
	Nexts     []string `yaml:"nexts"`
	Errors    []string `yaml:"errors"`
	Completes []string `yaml:"completes"`
	Projector string   `yaml:"projector"`
	Codec     string   `yaml:"codec"`
}

// projectors resolves projector names used in map files.
var projectors = map[string]Projector{
	"":         Identity,
	"identity": Identity,
	"first":    First,
	"args":     Args,
	"exchange": ExchangeProjector,
}

// LoadMaps parses YAML map definitions. A definition names its projector
// (identity, first, args or exchange) or a payload codec content type, in
// which case items are decoded with Decode[any].
func LoadMaps(rd io.Reader) ([]EventMap, error) {
	var f mapFile
	if err := yaml.NewDecoder(rd).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse event maps: %w", err)
	}

	maps := make([]EventMap, 0, len(f.Maps))
	for i, def := range f.Maps {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: map at index %d has no name", ErrInvalidEventMap, i)
		}
		m := EventMap{
			Name:      def.Name,
			Nexts:     def.Nexts,
			Errors:    def.Errors,
			Completes: def.Completes,
		}

		switch {
		case def.Codec != "" && def.Projector != "":
			return nil, fmt.Errorf("%w: %q sets both projector and codec", ErrInvalidEventMap, def.Name)
		case def.Codec != "":
			codec, ok := payload.Get(def.Codec)
			if !ok {
				return nil, fmt.Errorf("%w: %q uses codec %q", ErrUnknownProjector, def.Name, def.Codec)
			}
			m.Projector = Decode[any](codec)
		default:
			p, ok := projectors[def.Projector]
			if !ok {
				return nil, fmt.Errorf("%w: %q uses projector %q", ErrUnknownProjector, def.Name, def.Projector)
			}
			m.Projector = p
		}

		if err := m.Validate(); err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	return maps, nil
}
