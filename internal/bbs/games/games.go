// Package games provides pluggable BBS games (SPEC_FULL.md supplemented
// feature: a BBS is more useful to callers when the "g|games" menu
// actually leads somewhere).
package games

// Module is one selectable game. A Module owns its own per-session
// state by returning a fresh Session from Start.
type Module interface {
	// Name is the short token callers type to select this game from
	// the games submenu (e.g. "guess").
	Name() string
	// Description is one line shown in the games submenu.
	Description() string
	// Start begins a new play-through, returning its Session.
	Start() Session
}

// Session is one in-progress game. HandleInput processes one line of
// caller input and returns the reply text; done signals the game has
// finished and the BBS should return the caller to the main menu.
type Session interface {
	Prompt() string
	HandleInput(line string) (reply string, done bool)
}

// Registry holds the available game modules, keyed by Name().
type Registry struct {
	modules map[string]Module
	order   []string
}

// NewRegistry builds a Registry from modules, preserving their order
// for menu listing.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range modules {
		r.modules[m.Name()] = m
		r.order = append(r.order, m.Name())
	}
	return r
}

// Get looks up a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// List returns modules in registration order.
func (r *Registry) List() []Module {
	out := make([]Module, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.modules[name])
	}
	return out
}
