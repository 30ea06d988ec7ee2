// Package capability exposes the simulation command set as narrow typed
// stubs. Every stub validates its arguments locally before transmission
// and maps simulation rejections onto a closed error-code set.
package capability

import (
	"context"
	"encoding/json"
	"fmt"

	"beltline/internal/bridge"
	"beltline/internal/codec"
	"beltline/internal/mailbox"
	"beltline/pkg/sim"
)

// Command channel capability names.
const (
	CapPlaceEntity      = "place_entity"
	CapRemoveEntity     = "remove_entity"
	CapGetEntities      = "get_entities"
	CapSnapshot         = "snapshot"
	CapRequestPath      = "request_path"
	CapGetPath          = "get_path"
	CapMoveTo           = "move_to"
	CapAdvanceTime      = "advance_time"
	CapGetPosition      = "get_position"
	CapGetInventory     = "get_inventory"
	CapSetInventory     = "set_inventory"
	CapProductionTotals = "production_totals"
	CapSendMessage      = "send_message"
	CapReadMessages     = "read_messages"
	CapSetResearch      = "set_research"
	CapReset            = "reset"
)

// Broadcast is the recipient wildcard for SendMessage.
const Broadcast = "*"

// Client issues capability calls for one actor over a transport.
type Client struct {
	transport bridge.Transport
	actor     string
}

func NewClient(transport bridge.Transport, actor string) *Client {
	return &Client{transport: transport, actor: actor}
}

// Actor returns the actor name calls are issued for.
func (c *Client) Actor() string {
	return c.actor
}

// call validates, transmits, and decodes one capability invocation.
// When out is non-nil the result payload is unmarshalled into it.
func (c *Client) call(ctx context.Context, capName string, args []any, out any) error {
	if err := validateArgs(capName, args); err != nil {
		return err
	}
	resp, err := c.transport.Call(ctx, bridge.Request{Actor: c.actor, Capability: capName, Args: args})
	if err != nil {
		return fmt.Errorf("capability %s: %w", capName, err)
	}
	if !resp.OK {
		return newCapabilityError(resp.ErrCode, resp.Err)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("capability %s: decode result: %w", capName, err)
		}
	}
	return nil
}

// PlaceEntity places one entity from the actor's inventory and returns
// it as placed.
func (c *Client) PlaceEntity(ctx context.Context, name string, pos sim.Position, dir sim.Direction) (*sim.Entity, error) {
	if !dir.Valid() {
		return nil, &ValidationError{Capability: CapPlaceEntity, Reason: fmt.Sprintf("invalid direction %d", dir)}
	}
	var placed sim.Entity
	err := c.call(ctx, CapPlaceEntity, []any{name, pos.X, pos.Y, dir.String()}, &placed)
	if err != nil {
		return nil, err
	}
	return &placed, nil
}

// RemoveEntity picks up the named entity at pos and returns the actor's
// updated count of that item.
func (c *Client) RemoveEntity(ctx context.Context, name string, pos sim.Position) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, CapRemoveEntity, []any{name, pos.X, pos.Y}, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// GetEntities lists placed entities within radius cells of center.
func (c *Client) GetEntities(ctx context.Context, center sim.Position, radius int) ([]sim.Entity, error) {
	var entities []sim.Entity
	if err := c.call(ctx, CapGetEntities, []any{center.X, center.Y, radius}, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// SnapshotResult is an encoded observation frame plus the format needed
// to decode it.
type SnapshotResult struct {
	Format codec.Format `json:"format"`
	Frame  string       `json:"frame"`
}

// Observation decodes the frame.
func (r SnapshotResult) Observation() (*codec.Observation, error) {
	return codec.Decode(r.Frame, r.Format)
}

// SnapshotOptions tune a snapshot request. Zero value means verbose
// without statuses.
type SnapshotOptions struct {
	Format        codec.Format
	IncludeStatus bool
}

// Snapshot requests an observation of the region around center.
func (c *Client) Snapshot(ctx context.Context, center sim.Position, radius int, opts SnapshotOptions) (SnapshotResult, error) {
	format := opts.Format
	if format == "" {
		format = codec.FormatVerbose
	}
	var result SnapshotResult
	err := c.call(ctx, CapSnapshot, []any{center.X, center.Y, radius, string(format), opts.IncludeStatus}, &result)
	if err != nil {
		return SnapshotResult{}, err
	}
	return result, nil
}

// RequestPath submits an asynchronous path query and returns its ticket.
// Radius is the acceptable arrival distance from goal.
func (c *Client) RequestPath(ctx context.Context, start, goal sim.Position, radius float64) (int64, error) {
	var result struct {
		Ticket int64 `json:"ticket"`
	}
	if err := c.call(ctx, CapRequestPath, []any{start.X, start.Y, goal.X, goal.Y, radius}, &result); err != nil {
		return 0, err
	}
	return result.Ticket, nil
}

// PathPoll is the wire form of one ticket poll. State carries the
// lifecycle word; waypoints accompany success only.
type PathPoll struct {
	State     string         `json:"state"`
	Waypoints []sim.Position `json:"waypoints,omitempty"`
}

// GetPath polls a path ticket. Unknown tickets report state "invalid"
// in-band, never an error.
func (c *Client) GetPath(ctx context.Context, ticket int64) (PathPoll, error) {
	var result PathPoll
	if err := c.call(ctx, CapGetPath, []any{ticket}, &result); err != nil {
		return PathPoll{}, err
	}
	return result, nil
}

// MoveOptions tune a movement command. Lay names an entity to place
// along the walked path; Mode chooses its orientation discipline.
type MoveOptions struct {
	Lay    string
	Mode   string // "trailing" (default) or "immediate"
	Queued bool
}

// MoveTo moves the actor toward dest. Instant mode returns the final
// position; queued mode registers a walking queue and returns the
// current position immediately. Re-issuing replaces any prior queue
// wholesale.
func (c *Client) MoveTo(ctx context.Context, dest sim.Position, opts MoveOptions) (sim.Position, error) {
	mode := opts.Mode
	if mode == "" {
		mode = "trailing"
	}
	var result sim.Position
	err := c.call(ctx, CapMoveTo, []any{dest.X, dest.Y, opts.Lay, mode, opts.Queued}, &result)
	if err != nil {
		return sim.Position{}, err
	}
	return result, nil
}

// AdvanceTime advances virtual time by ticks and returns the new tick.
func (c *Client) AdvanceTime(ctx context.Context, ticks int) (int64, error) {
	var result struct {
		Tick int64 `json:"tick"`
	}
	if err := c.call(ctx, CapAdvanceTime, []any{ticks}, &result); err != nil {
		return 0, err
	}
	return result.Tick, nil
}

func (c *Client) GetPosition(ctx context.Context) (sim.Position, error) {
	var result sim.Position
	if err := c.call(ctx, CapGetPosition, nil, &result); err != nil {
		return sim.Position{}, err
	}
	return result, nil
}

func (c *Client) GetInventory(ctx context.Context) (sim.Inventory, error) {
	var result sim.Inventory
	if err := c.call(ctx, CapGetInventory, nil, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = sim.Inventory{}
	}
	return result, nil
}

// SetInventory replaces the actor's inventory wholesale.
func (c *Client) SetInventory(ctx context.Context, inv sim.Inventory) error {
	if inv == nil {
		inv = sim.Inventory{}
	}
	return c.call(ctx, CapSetInventory, []any{inv}, nil)
}

// ProductionTotals returns cumulative production counters by item.
func (c *Client) ProductionTotals(ctx context.Context) (map[string]int, error) {
	var result map[string]int
	if err := c.call(ctx, CapProductionTotals, nil, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]int{}
	}
	return result, nil
}

// SendMessage delivers payload to another actor's mailbox, or to every
// other registered actor when recipient is Broadcast.
func (c *Client) SendMessage(ctx context.Context, recipient, payload string) error {
	return c.call(ctx, CapSendMessage, []any{recipient, payload}, nil)
}

// ReadMessages drains the actor's mailbox in delivery order.
func (c *Client) ReadMessages(ctx context.Context) ([]mailbox.Message, error) {
	var result []mailbox.Message
	if err := c.call(ctx, CapReadMessages, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SetResearch toggles the all-technologies-researched flag.
func (c *Client) SetResearch(ctx context.Context, all bool) error {
	return c.call(ctx, CapSetResearch, []any{all}, nil)
}

// ResetOptions select what a session reset restores.
type ResetOptions struct {
	Inventories   map[string]sim.Inventory `json:"inventories,omitempty"`
	Positions     map[string]sim.Position  `json:"positions,omitempty"`
	ResearchAll   bool                     `json:"research_all,omitempty"`
	ClearEntities bool                     `json:"clear_entities,omitempty"`
}

// Reset restores the simulation to a fresh episode boundary. Walking
// queues, path tickets, and production counters are cleared sim-side.
func (c *Client) Reset(ctx context.Context, opts ResetOptions) error {
	return c.call(ctx, CapReset, []any{opts}, nil)
}
