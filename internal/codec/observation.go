// Package codec builds spatial observations and encodes them for the
// agent channel. Verbose frames are plain JSON; compact frames pack a
// type table, entities, terrain runs, and resource clusters into a
// binary layout behind URL-safe base64.
package codec

import (
	"fmt"
	"sort"

	"beltline/pkg/sim"
)

// WorldReader supplies the world state an observation is built from.
// Implementations return entities in any order; the builder sorts.
type WorldReader interface {
	// TerrainAt names the terrain type of a cell, or "" outside the world.
	TerrainAt(x, y int) string
	// EntitiesWithin returns placed entities anchored inside the box.
	EntitiesWithin(box sim.Box) []sim.Entity
	// ResourcesWithin returns resource deposits inside the box. Name is
	// the resource type and Amount the remaining units.
	ResourcesWithin(box sim.Box) []sim.Entity
	// Tick is the current virtual time.
	Tick() int64
}

// TerrainRun is one horizontal stretch of same-type terrain cells.
type TerrainRun struct {
	Type   string `json:"type"`
	StartX int    `json:"start_x"`
	RowY   int    `json:"row_y"`
	Length int    `json:"length"`
}

// ClusterMember is one deposit inside a cluster, stored as the cell
// offset from the cluster anchor.
type ClusterMember struct {
	DX     int `json:"dx"`
	DY     int `json:"dy"`
	Amount int `json:"amount"`
}

// ResourceCluster groups deposits of one resource type around an anchor
// cell. Members never mix types.
type ResourceCluster struct {
	Type    string          `json:"type"`
	AnchorX int             `json:"anchor_x"`
	AnchorY int             `json:"anchor_y"`
	Members []ClusterMember `json:"members"`
}

// TotalAmount sums the remaining units across all members.
func (c ResourceCluster) TotalAmount() int {
	total := 0
	for _, m := range c.Members {
		total += m.Amount
	}
	return total
}

// Observation is one snapshot of the world around a reference position.
// Snapshots are value objects, recomputed per request and never cached.
type Observation struct {
	Tick      int64             `json:"tick"`
	Reference sim.Position      `json:"reference"`
	Radius    int               `json:"radius"`
	Entities  []sim.Entity      `json:"entities"`
	Terrain   []TerrainRun      `json:"terrain"`
	Resources []ResourceCluster `json:"resources"`
}

// BuildOptions tune what a snapshot carries.
type BuildOptions struct {
	IncludeStatus bool
}

// clusterSpan is the cell distance, on each axis, within which a deposit
// joins an existing cluster anchor.
const clusterSpan = 3

// Build assembles an observation of the square region spanning radius
// cells around ref. Entities and deposits are scanned row-major so the
// result is deterministic for a given world state.
func Build(w WorldReader, ref sim.Position, radius int, opts BuildOptions) (*Observation, error) {
	if radius < 0 {
		return nil, fmt.Errorf("build observation: negative radius %d", radius)
	}
	center := ref.Cell()
	box := sim.Around(center, float64(radius))

	entities := w.EntitiesWithin(box)
	sortRowMajor(entities)
	if !opts.IncludeStatus {
		for i := range entities {
			entities[i].Status = ""
		}
	}

	resources := w.ResourcesWithin(box)
	sortRowMajor(resources)

	obs := &Observation{
		Tick:      w.Tick(),
		Reference: ref,
		Radius:    radius,
		Entities:  entities,
		Terrain:   terrainRuns(w, box),
		Resources: clusterResources(resources),
	}
	return obs, nil
}

func sortRowMajor(entities []sim.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Position.Y != entities[j].Position.Y {
			return entities[i].Position.Y < entities[j].Position.Y
		}
		return entities[i].Position.X < entities[j].Position.X
	})
}

// terrainRuns scans each row left to right and merges contiguous cells
// of the same type into runs. Cells outside the world ("") break runs
// and are not emitted.
func terrainRuns(w WorldReader, box sim.Box) []TerrainRun {
	var runs []TerrainRun
	for y := int(box.Min.Y); y <= int(box.Max.Y); y++ {
		var cur *TerrainRun
		for x := int(box.Min.X); x <= int(box.Max.X); x++ {
			t := w.TerrainAt(x, y)
			if t == "" {
				cur = nil
				continue
			}
			if cur != nil && cur.Type == t {
				cur.Length++
				continue
			}
			runs = append(runs, TerrainRun{Type: t, StartX: x, RowY: y, Length: 1})
			cur = &runs[len(runs)-1]
		}
	}
	return runs
}

// clusterResources groups deposits greedily in iteration order. A deposit
// joins the first existing cluster of its type whose anchor is within
// clusterSpan cells on both axes; otherwise it seeds a new cluster at its
// own cell. Membership is anchored, not nearest: a deposit closer to a
// later cluster still joins the earlier one it first matches.
func clusterResources(deposits []sim.Entity) []ResourceCluster {
	var clusters []ResourceCluster
	for _, dep := range deposits {
		cell := dep.Position.Cell()
		cx, cy := int(cell.X), int(cell.Y)

		joined := false
		for i := range clusters {
			c := &clusters[i]
			if c.Type != dep.Name {
				continue
			}
			if abs(cx-c.AnchorX) <= clusterSpan && abs(cy-c.AnchorY) <= clusterSpan {
				c.Members = append(c.Members, ClusterMember{DX: cx - c.AnchorX, DY: cy - c.AnchorY, Amount: dep.Amount})
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, ResourceCluster{
				Type:    dep.Name,
				AnchorX: cx,
				AnchorY: cy,
				Members: []ClusterMember{{Amount: dep.Amount}},
			})
		}
	}
	return clusters
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
