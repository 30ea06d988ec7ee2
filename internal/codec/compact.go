package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"beltline/pkg/sim"
)

// Compact frame layout, in order. Coordinates are half-cell fixed point:
// int16 little-endian holding position*2, so half-cell anchors survive.
// Cluster member offsets are whole cells clamped to int8; callers must
// not assume exactness beyond +/-127 cells from the anchor.
const (
	compactVersion = 1

	secTypes     = 0x01
	secEntities  = 0x02
	secTerrain   = 0x03
	secResources = 0x04

	// maxRunLength caps one terrain run in the compact form. Longer runs
	// split on encode and re-merge structurally on decode is not done;
	// decoded runs reflect the split.
	maxRunLength = 255

	flagStatuses = 0x01
)

type compactWriter struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
}

func (w *compactWriter) putByte(b byte) {
	w.buf.WriteByte(b)
}

func (w *compactWriter) putUvarint(v uint64) {
	n := binary.PutUvarint(w.tmp[:], v)
	w.buf.Write(w.tmp[:n])
}

func (w *compactWriter) putInt16(v int16) {
	binary.LittleEndian.PutUint16(w.tmp[:2], uint16(v))
	w.buf.Write(w.tmp[:2])
}

func (w *compactWriter) putString(s string) {
	w.putUvarint(uint64(len(s)))
	w.buf.WriteString(s)
}

// fixedCoord converts a world coordinate to half-cell fixed point.
func fixedCoord(v float64) (int16, error) {
	scaled := math.Round(v * 2)
	if scaled < math.MinInt16 || scaled > math.MaxInt16 {
		return 0, fmt.Errorf("coordinate %g out of compact range", v)
	}
	return int16(scaled), nil
}

func clampInt8(v int) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}

// typeTable interns every string the frame references so sections can
// refer to strings by index.
type typeTable struct {
	names []string
	index map[string]uint64
}

func newTypeTable() *typeTable {
	return &typeTable{index: make(map[string]uint64)}
}

func (t *typeTable) intern(s string) uint64 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint64(len(t.names))
	t.names = append(t.names, s)
	t.index[s] = i
	return i
}

func encodeCompact(o *Observation) (string, error) {
	table := newTypeTable()
	for _, e := range o.Entities {
		table.intern(e.Name)
		if e.Status != "" {
			table.intern(e.Status)
		}
	}
	for _, r := range o.Terrain {
		table.intern(r.Type)
	}
	for _, c := range o.Resources {
		table.intern(c.Type)
	}

	hasStatuses := false
	for _, e := range o.Entities {
		if e.Status != "" {
			hasStatuses = true
			break
		}
	}

	w := &compactWriter{}
	w.putByte(compactVersion)
	w.putUvarint(uint64(o.Tick))
	refX, err := fixedCoord(o.Reference.X)
	if err != nil {
		return "", fmt.Errorf("encode reference: %w", err)
	}
	refY, err := fixedCoord(o.Reference.Y)
	if err != nil {
		return "", fmt.Errorf("encode reference: %w", err)
	}
	w.putInt16(refX)
	w.putInt16(refY)
	w.putUvarint(uint64(o.Radius))
	var flags byte
	if hasStatuses {
		flags |= flagStatuses
	}
	w.putByte(flags)

	w.putByte(secTypes)
	w.putUvarint(uint64(len(table.names)))
	for _, name := range table.names {
		w.putString(name)
	}

	w.putByte(secEntities)
	w.putUvarint(uint64(len(o.Entities)))
	for _, e := range o.Entities {
		x, err := fixedCoord(e.Position.X)
		if err != nil {
			return "", fmt.Errorf("encode entity %q: %w", e.Name, err)
		}
		y, err := fixedCoord(e.Position.Y)
		if err != nil {
			return "", fmt.Errorf("encode entity %q: %w", e.Name, err)
		}
		w.putUvarint(table.intern(e.Name))
		w.putInt16(x)
		w.putInt16(y)
		w.putByte(byte(e.Direction))
		if hasStatuses {
			if e.Status == "" {
				w.putUvarint(0)
			} else {
				w.putUvarint(table.intern(e.Status) + 1)
			}
		}
	}

	w.putByte(secTerrain)
	runs := splitRuns(o.Terrain)
	w.putUvarint(uint64(len(runs)))
	for _, r := range runs {
		x, err := fixedCoord(float64(r.StartX))
		if err != nil {
			return "", fmt.Errorf("encode terrain run: %w", err)
		}
		y, err := fixedCoord(float64(r.RowY))
		if err != nil {
			return "", fmt.Errorf("encode terrain run: %w", err)
		}
		w.putUvarint(table.intern(r.Type))
		w.putInt16(x)
		w.putInt16(y)
		w.putByte(byte(r.Length))
	}

	w.putByte(secResources)
	w.putUvarint(uint64(len(o.Resources)))
	for _, c := range o.Resources {
		x, err := fixedCoord(float64(c.AnchorX))
		if err != nil {
			return "", fmt.Errorf("encode cluster: %w", err)
		}
		y, err := fixedCoord(float64(c.AnchorY))
		if err != nil {
			return "", fmt.Errorf("encode cluster: %w", err)
		}
		w.putUvarint(table.intern(c.Type))
		w.putInt16(x)
		w.putInt16(y)
		w.putUvarint(uint64(len(c.Members)))
		for _, m := range c.Members {
			w.putByte(byte(clampInt8(m.DX)))
			w.putByte(byte(clampInt8(m.DY)))
			w.putUvarint(uint64(m.Amount))
		}
	}

	return base64.URLEncoding.EncodeToString(w.buf.Bytes()), nil
}

// splitRuns breaks runs longer than maxRunLength into adjacent pieces.
func splitRuns(runs []TerrainRun) []TerrainRun {
	out := make([]TerrainRun, 0, len(runs))
	for _, r := range runs {
		for r.Length > maxRunLength {
			out = append(out, TerrainRun{Type: r.Type, StartX: r.StartX, RowY: r.RowY, Length: maxRunLength})
			r.StartX += maxRunLength
			r.Length -= maxRunLength
		}
		if r.Length > 0 {
			out = append(out, r)
		}
	}
	return out
}

type compactReader struct {
	raw []byte
	off int
}

func (r *compactReader) byte() (byte, error) {
	if r.off >= len(r.raw) {
		return 0, fmt.Errorf("truncated frame at %d", r.off)
	}
	b := r.raw[r.off]
	r.off++
	return b, nil
}

func (r *compactReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.raw[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("bad varint at %d", r.off)
	}
	r.off += n
	return v, nil
}

func (r *compactReader) int16() (int16, error) {
	if r.off+2 > len(r.raw) {
		return 0, fmt.Errorf("truncated frame at %d", r.off)
	}
	v := int16(binary.LittleEndian.Uint16(r.raw[r.off:]))
	r.off += 2
	return v, nil
}

func (r *compactReader) string() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.raw) {
		return "", fmt.Errorf("truncated string at %d", r.off)
	}
	s := string(r.raw[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *compactReader) coord() (float64, error) {
	v, err := r.int16()
	if err != nil {
		return 0, err
	}
	return float64(v) / 2, nil
}

func (r *compactReader) section(want byte) error {
	tag, err := r.byte()
	if err != nil {
		return err
	}
	if tag != want {
		return fmt.Errorf("bad section tag %#x at %d, want %#x", tag, r.off-1, want)
	}
	return nil
}

func (r *compactReader) typeName(table []string, idx uint64) (string, error) {
	if idx >= uint64(len(table)) {
		return "", fmt.Errorf("type index %d out of table range %d", idx, len(table))
	}
	return table[idx], nil
}

func decodeCompact(frame string) (*Observation, error) {
	raw, err := base64.URLEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("decode compact frame: %w", err)
	}
	r := &compactReader{raw: raw}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	if version != compactVersion {
		return nil, fmt.Errorf("unsupported frame version %d", version)
	}

	o := &Observation{}
	tick, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	o.Tick = int64(tick)
	if o.Reference.X, err = r.coord(); err != nil {
		return nil, err
	}
	if o.Reference.Y, err = r.coord(); err != nil {
		return nil, err
	}
	radius, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	o.Radius = int(radius)
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}

	if err := r.section(secTypes); err != nil {
		return nil, err
	}
	typeCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	table := make([]string, 0, typeCount)
	for i := uint64(0); i < typeCount; i++ {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		table = append(table, s)
	}

	if err := r.section(secEntities); err != nil {
		return nil, err
	}
	entityCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < entityCount; i++ {
		var e sim.Entity
		idx, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if e.Name, err = r.typeName(table, idx); err != nil {
			return nil, err
		}
		if e.Position.X, err = r.coord(); err != nil {
			return nil, err
		}
		if e.Position.Y, err = r.coord(); err != nil {
			return nil, err
		}
		dir, err := r.byte()
		if err != nil {
			return nil, err
		}
		e.Direction = sim.Direction(dir)
		if !e.Direction.Valid() {
			return nil, fmt.Errorf("bad direction %d at %d", dir, r.off-1)
		}
		if flags&flagStatuses != 0 {
			statusIdx, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if statusIdx > 0 {
				if e.Status, err = r.typeName(table, statusIdx-1); err != nil {
					return nil, err
				}
			}
		}
		o.Entities = append(o.Entities, e)
	}

	if err := r.section(secTerrain); err != nil {
		return nil, err
	}
	runCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < runCount; i++ {
		var run TerrainRun
		idx, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if run.Type, err = r.typeName(table, idx); err != nil {
			return nil, err
		}
		x, err := r.coord()
		if err != nil {
			return nil, err
		}
		y, err := r.coord()
		if err != nil {
			return nil, err
		}
		run.StartX, run.RowY = int(x), int(y)
		length, err := r.byte()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			return nil, fmt.Errorf("zero-length terrain run at %d", r.off-1)
		}
		run.Length = int(length)
		o.Terrain = append(o.Terrain, run)
	}

	if err := r.section(secResources); err != nil {
		return nil, err
	}
	clusterCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < clusterCount; i++ {
		var c ResourceCluster
		idx, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if c.Type, err = r.typeName(table, idx); err != nil {
			return nil, err
		}
		x, err := r.coord()
		if err != nil {
			return nil, err
		}
		y, err := r.coord()
		if err != nil {
			return nil, err
		}
		c.AnchorX, c.AnchorY = int(x), int(y)
		memberCount, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < memberCount; j++ {
			var m ClusterMember
			dx, err := r.byte()
			if err != nil {
				return nil, err
			}
			dy, err := r.byte()
			if err != nil {
				return nil, err
			}
			m.DX, m.DY = int(int8(dx)), int(int8(dy))
			amount, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			m.Amount = int(amount)
			c.Members = append(c.Members, m)
		}
		o.Resources = append(o.Resources, c)
	}

	if r.off != len(r.raw) {
		return nil, fmt.Errorf("trailing %d bytes after frame", len(r.raw)-r.off)
	}
	return o, nil
}
