package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// Vectorizer turns a classified raster into vectors in the raster's CRS.
type Vectorizer interface {
	Vectorize(ctx context.Context, r *raster.Raster) ([]domain.Vector, error)
}

// VectorizeMode names a vectorizer.
type VectorizeMode string

// Vectorize modes.
const (
	ModePoint   VectorizeMode = "point"
	ModePolygon VectorizeMode = "polygon"
)

// NewVectorizer returns the vectorizer for mode.
func NewVectorizer(mode string, threshold *float64) (Vectorizer, error) {
	switch VectorizeMode(strings.ToLower(strings.TrimSpace(mode))) {
	case ModePoint:
		return ToPoint{Threshold: threshold}, nil
	case ModePolygon, "":
		return ToPolygon{Threshold: threshold}, nil
	}
	return nil, &domain.ValidationError{
		Field:      "vectorize",
		Value:      mode,
		Constraint: "point|polygon",
		Message:    "unknown vectorize mode",
	}
}

func requireInteger(r *raster.Raster) error {
	if !r.DType().IsInteger() {
		return fmt.Errorf("vectorizing %v raster: %w", r.DType(), domain.ErrUnsupportedDType)
	}
	return nil
}

// ToPoint emits one point per pixel above the threshold at the pixel center.
// Without a threshold every pixel holding data is emitted. Only the first
// band is read.
type ToPoint struct {
	Threshold *float64
}

// Vectorize implements Vectorizer.
func (tp ToPoint) Vectorize(ctx context.Context, r *raster.Raster) ([]domain.Vector, error) {
	if err := requireInteger(r); err != nil {
		return nil, err
	}
	g := r.Grid()
	var out []domain.Vector
	for y := 0; y < g.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < g.Width; x++ {
			v := g.At(0, y, x)
			if g.IsNoData(v) || (tp.Threshold != nil && v <= *tp.Threshold) {
				continue
			}
			out = append(out, domain.Vector{
				Geometry:   g.Transform.PixelCenter(y, x),
				CRS:        g.CRS,
				PixelValue: int(v),
			})
		}
	}
	return out, nil
}

// ToPolygon groups 4-connected pixels of equal value into polygons, keeping
// components whose value is at least the threshold. Only the first band is
// read.
type ToPolygon struct {
	Threshold *float64
}

// Vectorize implements Vectorizer.
func (tp ToPolygon) Vectorize(ctx context.Context, r *raster.Raster) ([]domain.Vector, error) {
	if err := requireInteger(r); err != nil {
		return nil, err
	}
	g := r.Grid()
	labels, comps := labelComponents(g, tp.Threshold)

	out := make([]domain.Vector, 0, len(comps))
	for i, c := range comps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		geom := componentGeometry(labels, g.Width, g.Height, int32(i+1), c.pixels, g.Transform)
		out = append(out, domain.Vector{Geometry: geom, CRS: g.CRS, PixelValue: int(c.value)})
	}
	return out, nil
}

// component is one connected region of equal valued pixels.
type component struct {
	value  float64
	pixels []int // row-major indices
}

// labelComponents assigns a 1-based label to every 4-connected component of
// equal valued pixels that passes the threshold. Label 0 means excluded.
func labelComponents(g *raster.Grid, threshold *float64) ([]int32, []component) {
	band := g.Bands[0]
	labels := make([]int32, len(band))
	var comps []component
	var stack []int
	for start, v := range band {
		if labels[start] != 0 || g.IsNoData(v) || (threshold != nil && v < *threshold) {
			continue
		}
		comps = append(comps, component{value: v})
		c := &comps[len(comps)-1]
		id := int32(len(comps))
		labels[start] = id
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			c.pixels = append(c.pixels, i)
			y, x := i/g.Width, i%g.Width
			for _, n := range [4][2]int{{y - 1, x}, {y + 1, x}, {y, x - 1}, {y, x + 1}} {
				if n[0] < 0 || n[1] < 0 || n[0] >= g.Height || n[1] >= g.Width {
					continue
				}
				j := n[0]*g.Width + n[1]
				if labels[j] == 0 && band[j] == v {
					labels[j] = id
					stack = append(stack, j)
				}
			}
		}
	}
	return labels, comps
}

// vertex is a pixel corner; x is the column and y the row.
type vertex struct{ x, y int }

type edge struct{ from, to vertex }

func (e edge) dir() vertex {
	return vertex{e.to.x - e.from.x, e.to.y - e.from.y}
}

// componentGeometry traces the boundary of one labelled component. Edges run
// clockwise around each pixel on screen (rows growing downwards), so the
// component is always on the right of an edge. Outer rings then have a
// positive shoelace sum and holes a negative one.
func componentGeometry(labels []int32, w, h int, id int32, pixels []int, t domain.Affine) orb.Geometry {
	in := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == id
	}

	out := map[vertex][]edge{}
	add := func(a, b vertex) {
		out[a] = append(out[a], edge{a, b})
	}
	slices.Sort(pixels)
	for _, i := range pixels {
		y, x := i/w, i%w
		if !in(x, y-1) {
			add(vertex{x, y}, vertex{x + 1, y})
		}
		if !in(x+1, y) {
			add(vertex{x + 1, y}, vertex{x + 1, y + 1})
		}
		if !in(x, y+1) {
			add(vertex{x + 1, y + 1}, vertex{x, y + 1})
		}
		if !in(x-1, y) {
			add(vertex{x, y + 1}, vertex{x, y})
		}
	}

	var outers, holes []orb.Ring
	for {
		start, ok := anyEdge(out)
		if !ok {
			break
		}
		ring := traceRing(out, start)
		if signedArea(ring) > 0 {
			outers = append(outers, ring)
		} else {
			holes = append(holes, ring)
		}
	}

	polys := make([]orb.Polygon, len(outers))
	for i, o := range outers {
		polys[i] = orb.Polygon{o}
	}
	for _, hole := range holes {
		owner := 0
		if len(polys) > 1 {
			probe := interiorProbe(hole)
			for i, o := range outers {
				if planar.RingContains(o, probe) {
					owner = i
					break
				}
			}
		}
		polys[owner] = append(polys[owner], hole)
	}

	flip := t.Determinant() < 0
	mp := make(orb.MultiPolygon, len(polys))
	for i, p := range polys {
		mp[i] = make(orb.Polygon, len(p))
		for j, ring := range p {
			tr := make(orb.Ring, len(ring))
			for k, v := range ring {
				x, y := t.Apply(v[0], v[1])
				tr[k] = orb.Point{x, y}
			}
			if flip {
				slices.Reverse(tr)
			}
			mp[i][j] = tr
		}
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

func anyEdge(out map[vertex][]edge) (edge, bool) {
	// Pick the smallest vertex so tracing is deterministic.
	var best *vertex
	for v, es := range out {
		if len(es) == 0 {
			continue
		}
		if best == nil || v.y < best.y || (v.y == best.y && v.x < best.x) {
			vv := v
			best = &vv
		}
	}
	if best == nil {
		return edge{}, false
	}
	return out[*best][0], true
}

// traceRing follows unused edges from start, preferring right turns, then
// straight, then left turns. Turning right at a vertex shared by two
// diagonal pixels keeps the ring tight around one pixel. Only corners are
// kept.
func traceRing(out map[vertex][]edge, start edge) orb.Ring {
	take(out, start)
	var corners []vertex
	cur := start
	for {
		candidates := out[cur.to]
		if cur.to == start.from {
			candidates = append(slices.Clone(candidates), start)
		}
		next, ok := nextEdge(cur.dir(), candidates)
		if !ok {
			break
		}
		if next.dir() != cur.dir() {
			corners = append(corners, cur.to)
		}
		if next == start {
			break
		}
		take(out, next)
		cur = next
	}

	ring := make(orb.Ring, 0, len(corners)+1)
	for _, v := range corners {
		ring = append(ring, orb.Point{float64(v.x), float64(v.y)})
	}
	return append(ring, ring[0])
}

func nextEdge(d vertex, candidates []edge) (edge, bool) {
	right := vertex{-d.y, d.x}
	left := vertex{d.y, -d.x}
	for _, want := range [3]vertex{right, d, left} {
		for _, c := range candidates {
			if c.dir() == want {
				return c, true
			}
		}
	}
	return edge{}, false
}

func take(out map[vertex][]edge, e edge) {
	es := out[e.from]
	for i, c := range es {
		if c == e {
			es = append(es[:i], es[i+1:]...)
			break
		}
	}
	if len(es) == 0 {
		delete(out, e.from)
		return
	}
	out[e.from] = es
}

// signedArea is the shoelace sum of a closed ring.
func signedArea(r orb.Ring) float64 {
	s := 0.0
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// interiorProbe returns the center of the component pixel on the right of
// the hole's first edge.
func interiorProbe(hole orb.Ring) orb.Point {
	a, b := hole[0], hole[1]
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := max(abs(dx), abs(dy))
	dx, dy = dx/l, dy/l
	// Half a pixel along the edge and half a pixel to its right.
	return orb.Point{a[0] + 0.5*dx - 0.5*dy, a[1] + 0.5*dy + 0.5*dx}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
