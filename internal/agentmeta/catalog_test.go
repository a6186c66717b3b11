package agentmeta

import "testing"

func TestResolveBuiltin(t *testing.T) {
	r := NewRegistry(nil)
	got := r.Resolve("Scout")
	if got.Name != "Scout" || got.Emoji != "🔭" || got.ID != "scout" {
		t.Fatalf("Resolve(Scout) = %+v", got)
	}
	if got.Label() != "🔭 Scout" {
		t.Fatalf("Label = %q", got.Label())
	}
}

func TestResolveUnknownIsNeutral(t *testing.T) {
	r := NewRegistry(nil)
	got := r.Resolve("ghost")
	if got.Name != "ghost" || got.Emoji != DefaultEmoji {
		t.Fatalf("Resolve(ghost) = %+v", got)
	}
	if _, ok := r.Lookup("ghost"); ok {
		t.Fatal("ghost should not be registered")
	}
}

func TestOverrides(t *testing.T) {
	r := NewRegistry(map[string]Identity{
		"scout": {Emoji: "🛰️"},
		"Atlas": {Name: "Atlas", Emoji: "🗺️"},
		"  ":    {Name: "blank"},
	})
	if got := r.Resolve("scout"); got.Name != "Scout" || got.Emoji != "🛰️" {
		t.Fatalf("scout = %+v", got)
	}
	if got := r.Resolve("atlas"); got.Label() != "🗺️ Atlas" {
		t.Fatalf("atlas = %+v", got)
	}
	for _, id := range r.IDs() {
		if id == "" {
			t.Fatal("blank id registered")
		}
	}
}
