package localsim

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"beltline/internal/capability"
	"beltline/internal/motion"
	"beltline/pkg/sim"
)

func testWorldConfig() WorldConfig {
	cfg := DefaultWorldConfig()
	cfg.Width = 64
	cfg.Height = 64
	cfg.WalkSpeed = 1.0
	cfg.PathDelayTicks = 2
	cfg.ProducerPulseTicks = 5
	cfg.StartingInventory = map[string]int{
		"transport-belt":      20,
		"burner-mining-drill": 3,
		"stone-furnace":       2,
	}
	cfg.Patches = []PatchConfig{
		{Type: "iron-ore", CenterX: 10, CenterY: 10, Radius: 1.5, Amount: 5},
	}
	return cfg
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorld(testWorldConfig(), nil, logger)
}

func TestTerrainDeterministicForSeed(t *testing.T) {
	w := newTestWorld(t)

	if got := w.TerrainAt(0, 0); got != "grass" {
		t.Fatalf("TerrainAt(0,0) = %q, want grass", got)
	}
	if got := w.TerrainAt(-1, -1); got != "water" {
		t.Fatalf("TerrainAt(-1,-1) = %q, want water", got)
	}
	if got := w.TerrainAt(4, 4); got != "water" {
		t.Fatalf("TerrainAt(4,4) = %q, want water", got)
	}

	other := NewWorld(testWorldConfig(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for y := -8; y < 8; y++ {
		for x := -8; x < 8; x++ {
			if w.TerrainAt(x, y) != other.TerrainAt(x, y) {
				t.Fatalf("terrain diverged at (%d,%d) for identical seeds", x, y)
			}
		}
	}
}

func TestTerrainOutsideBoundsIsEmpty(t *testing.T) {
	w := newTestWorld(t)

	for _, p := range []struct{ x, y int }{{32, 0}, {-33, 0}, {0, 32}, {0, -33}} {
		if got := w.TerrainAt(p.x, p.y); got != "" {
			t.Errorf("TerrainAt(%d,%d) = %q, want empty outside bounds", p.x, p.y, got)
		}
	}
	if got := w.TerrainAt(-32, -32); got == "" {
		t.Errorf("TerrainAt(-32,-32) empty, want in bounds")
	}

	if w.Passable(32, 0) {
		t.Errorf("Passable(32,0) = true outside bounds")
	}
	if w.Passable(4, 4) {
		t.Errorf("Passable(4,4) = true on water")
	}
	if !w.Passable(0, 0) {
		t.Errorf("Passable(0,0) = false on grass")
	}
}

func TestSeedPatchesShapesCircle(t *testing.T) {
	w := newTestWorld(t)

	deposits := w.ResourcesWithin(sim.Around(sim.Position{X: 10, Y: 10}, 3))
	if len(deposits) != 9 {
		t.Fatalf("got %d deposit cells, want 9 for radius 1.5", len(deposits))
	}
	for _, d := range deposits {
		if d.Name != "iron-ore" || d.Amount != 5 {
			t.Errorf("deposit %v: got %s amount %d, want iron-ore amount 5", d.Position, d.Name, d.Amount)
		}
		if d.Position.Distance(sim.Position{X: 10, Y: 10}) > 1.5 {
			t.Errorf("deposit %v lies outside the patch radius", d.Position)
		}
	}
}

func TestSeedPatchesClipAtWorldEdge(t *testing.T) {
	cfg := testWorldConfig()
	cfg.Patches = []PatchConfig{
		{Type: "coal", CenterX: 31, CenterY: 0, Radius: 2, Amount: 100},
	}
	w := NewWorld(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	deposits := w.ResourcesWithin(sim.Around(sim.Position{X: 31, Y: 0}, 4))
	if len(deposits) != 9 {
		t.Fatalf("got %d deposit cells, want 9 after clipping at x=32", len(deposits))
	}
	for _, d := range deposits {
		if d.Position.X >= 32 {
			t.Errorf("deposit %v lies outside the world", d.Position)
		}
	}
}

func TestPlaceLaidFastReplaceAndStock(t *testing.T) {
	w := newTestWorld(t)
	w.ensureActor("walker")
	cell := sim.Position{X: 1, Y: 0}

	if err := w.PlaceLaid("walker", "transport-belt", cell, sim.East); err != nil {
		t.Fatalf("PlaceLaid: %v", err)
	}
	// Re-laying the same name rotates in place without consuming stock.
	if err := w.PlaceLaid("walker", "transport-belt", cell, sim.South); err != nil {
		t.Fatalf("PlaceLaid rotate: %v", err)
	}

	w.mu.Lock()
	entity := w.entities[cellKey{1, 0}]
	belts := w.actors["walker"].inv.Count("transport-belt")
	producedBelts := w.produced["transport-belt"]
	w.mu.Unlock()
	if entity == nil || entity.Direction != sim.South {
		t.Fatalf("entity at (1,0) = %+v, want a south-facing belt", entity)
	}
	if belts != 19 {
		t.Errorf("belts in stock = %d, want 19 after one take", belts)
	}
	if producedBelts != 1 {
		t.Errorf("produced belts = %d, want 1 (rotation is free)", producedBelts)
	}

	if err := w.PlaceLaid("walker", "stone-furnace", cell, sim.North); err == nil {
		t.Fatalf("PlaceLaid over a foreign entity succeeded")
	}

	w.mu.Lock()
	w.actors["walker"].inv = sim.Inventory{}
	w.mu.Unlock()
	err := w.PlaceLaid("walker", "transport-belt", sim.Position{X: 2, Y: 0}, sim.East)
	if !errors.Is(err, motion.ErrStockOut) {
		t.Fatalf("PlaceLaid with empty stock: got %v, want ErrStockOut", err)
	}

	if err := w.PlaceLaid("ghost", "transport-belt", sim.Position{X: 3, Y: 0}, sim.East); err == nil {
		t.Fatalf("PlaceLaid by unknown actor succeeded")
	}
}

func TestStepPulsesProducers(t *testing.T) {
	cfg := testWorldConfig()
	cfg.ProducerPulseTicks = 1
	w := NewWorld(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.ensureActor("miner")

	if err := w.PlaceLaid("miner", "burner-mining-drill", sim.Position{X: 10, Y: 10}, sim.North); err != nil {
		t.Fatalf("PlaceLaid drill: %v", err)
	}

	for i := 0; i < 3; i++ {
		w.Step()
	}
	if got := w.productionTotals()["iron-ore"]; got != 3 {
		t.Fatalf("iron-ore after 3 pulses = %d, want 3", got)
	}
	w.mu.Lock()
	remaining := w.deposits[cellKey{10, 10}].amount
	status := w.entities[cellKey{10, 10}].Status
	w.mu.Unlock()
	if remaining != 2 {
		t.Errorf("deposit remaining = %d, want 2", remaining)
	}
	if status != "working" {
		t.Errorf("drill status = %q, want working", status)
	}

	// The deposit holds 5 units; further pulses drain it and flip the
	// drill to no_resource.
	for i := 0; i < 4; i++ {
		w.Step()
	}
	if got := w.productionTotals()["iron-ore"]; got != 5 {
		t.Errorf("iron-ore after depletion = %d, want 5", got)
	}
	w.mu.Lock()
	status = w.entities[cellKey{10, 10}].Status
	w.mu.Unlock()
	if status != "no_resource" {
		t.Errorf("drill status = %q, want no_resource", status)
	}

	if got := w.Tick(); got != 7 {
		t.Errorf("tick = %d, want 7", got)
	}
}

func TestResetWorldRestoresActors(t *testing.T) {
	w := newTestWorld(t)
	w.ensureActor("alice")
	w.ensureActor("bob")

	w.SetPosition("alice", sim.Position{X: 5, Y: 5})
	if err := w.PlaceLaid("alice", "stone-furnace", sim.Position{X: 2, Y: 0}, sim.North); err != nil {
		t.Fatalf("PlaceLaid: %v", err)
	}

	w.resetWorld(capability.ResetOptions{})

	pos, _ := w.Position("alice")
	if pos != (sim.Position{}) {
		t.Errorf("alice after reset at %v, want spawn", pos)
	}
	w.mu.Lock()
	furnaces := w.actors["alice"].inv.Count("stone-furnace")
	produced := len(w.produced)
	_, entityKept := w.entities[cellKey{2, 0}]
	w.mu.Unlock()
	if furnaces != 2 {
		t.Errorf("furnaces after reset = %d, want starting count 2", furnaces)
	}
	if produced != 0 {
		t.Errorf("production counters survived reset")
	}
	if !entityKept {
		t.Errorf("entity cleared without clear_entities")
	}

	w.resetWorld(capability.ResetOptions{ClearEntities: true})
	w.mu.Lock()
	entityCount := len(w.entities)
	depositAmount := w.deposits[cellKey{10, 10}].amount
	w.mu.Unlock()
	if entityCount != 0 {
		t.Errorf("%d entities survived clear_entities", entityCount)
	}
	if depositAmount != 5 {
		t.Errorf("deposit amount after reseed = %d, want 5", depositAmount)
	}
}

func TestResetWorldAppliesOverrides(t *testing.T) {
	w := newTestWorld(t)
	w.ensureActor("alice")
	w.ensureActor("bob")

	w.resetWorld(capability.ResetOptions{
		Positions:   map[string]sim.Position{"bob": {X: 3, Y: 3}},
		Inventories: map[string]sim.Inventory{"bob": {"iron-plate": 7}},
		ResearchAll: true,
	})

	if pos, _ := w.Position("bob"); pos != (sim.Position{X: 3, Y: 3}) {
		t.Errorf("bob at %v, want override (3,3)", pos)
	}
	if pos, _ := w.Position("alice"); pos != (sim.Position{}) {
		t.Errorf("alice at %v, want spawn", pos)
	}
	w.mu.Lock()
	bobInv := w.actors["bob"].inv.Clone()
	aliceBelts := w.actors["alice"].inv.Count("transport-belt")
	research := w.research
	w.mu.Unlock()
	if len(bobInv) != 1 || bobInv.Count("iron-plate") != 7 {
		t.Errorf("bob inventory = %v, want exactly 7 iron-plate", bobInv)
	}
	if aliceBelts != 20 {
		t.Errorf("alice belts = %d, want starting count 20", aliceBelts)
	}
	if !research {
		t.Errorf("research flag not applied")
	}
}

func TestLoadWorldConfig(t *testing.T) {
	t.Run("empty path loads defaults", func(t *testing.T) {
		cfg, err := LoadWorldConfig("")
		if err != nil {
			t.Fatalf("LoadWorldConfig: %v", err)
		}
		if cfg.Width != 128 || cfg.Seed != 1 {
			t.Errorf("defaults = %dx%d seed %d", cfg.Width, cfg.Height, cfg.Seed)
		}
	})

	t.Run("partial file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "world.yaml")
		if err := os.WriteFile(path, []byte("seed: 9\nwalk_speed: 0.5\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg, err := LoadWorldConfig(path)
		if err != nil {
			t.Fatalf("LoadWorldConfig: %v", err)
		}
		if cfg.Seed != 9 || cfg.WalkSpeed != 0.5 {
			t.Errorf("overrides not applied: seed %d speed %g", cfg.Seed, cfg.WalkSpeed)
		}
		if cfg.Width != 128 {
			t.Errorf("width = %d, want untouched default 128", cfg.Width)
		}
	})

	t.Run("invalid file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "world.yaml")
		if err := os.WriteFile(path, []byte("walk_speed: -1\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadWorldConfig(path); err == nil {
			t.Fatalf("negative walk_speed accepted")
		}
	})
}
