package localsim

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorldConfig shapes the simulated world. The zero path loads pure
// defaults so tests and the loopback deployment need no file.
type WorldConfig struct {
	// Width and Height bound the world; cells run from -Width/2 to
	// Width/2-1 on x and likewise on y.
	Width  int   `yaml:"width"`
	Height int   `yaml:"height"`
	Seed   int64 `yaml:"seed"`

	SpawnX float64 `yaml:"spawn_x"`
	SpawnY float64 `yaml:"spawn_y"`

	// WalkSpeed is cells per tick for queued movement.
	WalkSpeed float64 `yaml:"walk_speed"`
	// ArrivalEpsilon dequeues a walking target within this distance.
	ArrivalEpsilon float64 `yaml:"arrival_epsilon"`

	// PathDelayTicks is how long path queries stay pending.
	PathDelayTicks int64 `yaml:"path_delay_ticks"`
	// MaxInflightPaths saturates the planner into busy above it.
	MaxInflightPaths int `yaml:"max_inflight_paths"`

	// ProducerPulseTicks spaces the production bookkeeping pulses.
	ProducerPulseTicks int64 `yaml:"producer_pulse_ticks"`

	StartingInventory map[string]int `yaml:"starting_inventory"`
	Patches           []PatchConfig  `yaml:"patches"`
}

// PatchConfig seeds one circular resource patch.
type PatchConfig struct {
	Type    string  `yaml:"type"`
	CenterX int     `yaml:"center_x"`
	CenterY int     `yaml:"center_y"`
	Radius  float64 `yaml:"radius"`
	Amount  int     `yaml:"amount"` // per cell
}

func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		Width:              128,
		Height:             128,
		Seed:               1,
		WalkSpeed:          0.15,
		ArrivalEpsilon:     0.15,
		PathDelayTicks:     2,
		MaxInflightPaths:   8,
		ProducerPulseTicks: 60,
		StartingInventory: map[string]int{
			"transport-belt":      100,
			"burner-mining-drill": 10,
			"stone-furnace":       10,
		},
		Patches: []PatchConfig{
			{Type: "iron-ore", CenterX: 10, CenterY: 10, Radius: 3, Amount: 500},
			{Type: "copper-ore", CenterX: -12, CenterY: 8, Radius: 2, Amount: 400},
			{Type: "coal", CenterX: 6, CenterY: -14, Radius: 2, Amount: 350},
		},
	}
}

// LoadWorldConfig reads a world file, or returns defaults for an empty
// path.
func LoadWorldConfig(path string) (WorldConfig, error) {
	cfg := DefaultWorldConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("world config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("world config: %w", err)
	}
	return cfg, nil
}

func (c WorldConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("world dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.WalkSpeed <= 0 {
		return fmt.Errorf("walk_speed must be positive, got %g", c.WalkSpeed)
	}
	if c.PathDelayTicks < 0 {
		return fmt.Errorf("path_delay_ticks must not be negative, got %d", c.PathDelayTicks)
	}
	for i, p := range c.Patches {
		if p.Type == "" {
			return fmt.Errorf("patch %d: missing type", i)
		}
		if p.Radius < 0 || p.Amount <= 0 {
			return fmt.Errorf("patch %d (%s): bad radius %g or amount %d", i, p.Type, p.Radius, p.Amount)
		}
	}
	return nil
}
