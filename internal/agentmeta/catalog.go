// Package agentmeta maps agent ids to their display identity.
package agentmeta

import (
	"sort"
	"strings"
)

// Identity is how an agent is presented in relayed messages and reports.
type Identity struct {
	ID    string `json:"id" yaml:"-"`
	Name  string `json:"name" yaml:"name"`
	Emoji string `json:"emoji" yaml:"emoji"`
}

// Label returns "emoji name", or just the name when no emoji is set.
func (i Identity) Label() string {
	if i.Emoji == "" {
		return i.Name
	}
	return i.Emoji + " " + i.Name
}

// DefaultEmoji is used for agents without a registered identity.
const DefaultEmoji = "🤖"

var builtin = map[string]Identity{
	"main":     {Name: "Main", Emoji: "🧭"},
	"scout":    {Name: "Scout", Emoji: "🔭"},
	"builder":  {Name: "Builder", Emoji: "🛠️"},
	"reviewer": {Name: "Reviewer", Emoji: "🔍"},
	"scribe":   {Name: "Scribe", Emoji: "📝"},
}

// Registry is an immutable id -> Identity table.
type Registry struct {
	byID map[string]Identity
}

// NewRegistry returns the built-in identities overlaid with overrides.
// Override entries with an empty name keep the built-in name.
func NewRegistry(overrides map[string]Identity) *Registry {
	r := &Registry{byID: make(map[string]Identity, len(builtin)+len(overrides))}
	for id, ident := range builtin {
		ident.ID = id
		r.byID[id] = ident
	}
	for id, ident := range overrides {
		id = normalize(id)
		if id == "" {
			continue
		}
		base, ok := r.byID[id]
		if !ok {
			base = Identity{Name: id, Emoji: DefaultEmoji}
		}
		if strings.TrimSpace(ident.Name) != "" {
			base.Name = strings.TrimSpace(ident.Name)
		}
		if strings.TrimSpace(ident.Emoji) != "" {
			base.Emoji = strings.TrimSpace(ident.Emoji)
		}
		base.ID = id
		r.byID[id] = base
	}
	return r
}

// Lookup returns the identity for id and whether it is registered.
func (r *Registry) Lookup(id string) (Identity, bool) {
	ident, ok := r.byID[normalize(id)]
	return ident, ok
}

// Resolve returns the registered identity, or a neutral one named after id.
func (r *Registry) Resolve(id string) Identity {
	if ident, ok := r.Lookup(id); ok {
		return ident
	}
	return Identity{ID: id, Name: id, Emoji: DefaultEmoji}
}

// IDs returns the registered ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
