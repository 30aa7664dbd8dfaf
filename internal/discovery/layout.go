package discovery

import (
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// Canvas dimensions and iteration budget for the force simulation.
const (
	canvasWidth      = 1200.0
	canvasHeight     = 800.0
	layoutIterations = 100
)

// LayoutEngine computes 2-D coordinates for a topology snapshot using a
// Fruchterman-Reingold force simulation: every pair of devices repels, every
// linked pair attracts, and a linearly decreasing temperature lets the
// arrangement settle. The random source is injectable so tests can pin the
// initial placement.
type LayoutEngine struct {
	rng    *rand.Rand
	logger *zap.Logger
}

// NewLayoutEngine creates a layout engine seeded with the given source.
func NewLayoutEngine(seed int64, logger *zap.Logger) *LayoutEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayoutEngine{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

type vector struct {
	x, y float64
}

// Compute runs the simulation over the snapshot and returns a coordinate for
// every device. The snapshot is never mutated; layout must not observe graph
// changes mid-calculation. Zero- and one-device graphs skip the simulation.
func (l *LayoutEngine) Compute(snap models.TopologyGraph) map[string]models.Position {
	n := len(snap.Devices)
	positions := make(map[string]models.Position, n)
	if n == 0 {
		return positions
	}

	ids := make([]string, 0, n)
	for id := range snap.Devices {
		ids = append(ids, id)
	}

	if n == 1 {
		positions[ids[0]] = models.Position{X: canvasWidth / 2, Y: canvasHeight / 2}
		return positions
	}

	// Random initial placement inside the canvas.
	pos := make(map[string]vector, n)
	for _, id := range ids {
		pos[id] = vector{
			x: l.rng.Float64() * canvasWidth,
			y: l.rng.Float64() * canvasHeight,
		}
	}

	// Adjacency from the link set.
	adjacent := make(map[string][]string, n)
	for _, link := range snap.Links {
		adjacent[link.SourceID] = append(adjacent[link.SourceID], link.TargetID)
		adjacent[link.TargetID] = append(adjacent[link.TargetID], link.SourceID)
	}

	// Ideal inter-node distance for this canvas and device count.
	k := math.Sqrt(canvasWidth * canvasHeight / float64(n))

	for iter := 0; iter < layoutIterations; iter++ {
		// Cooling: the displacement cap shrinks linearly to zero.
		temperature := canvasWidth / 10 * (1 - float64(iter)/float64(layoutIterations))

		disp := make(map[string]vector, n)

		// Repulsion between every device pair.
		for i, a := range ids {
			for _, b := range ids[i+1:] {
				delta := sub(pos[a], pos[b])
				dist := length(delta)
				if dist == 0 {
					// Coincident devices: treat the distance as 1 and nudge
					// along a fixed axis to break the tie.
					dist = 1
					delta = vector{x: 1, y: 0}
				}
				force := k * k / dist
				push := scale(delta, force/dist)
				disp[a] = add(disp[a], push)
				disp[b] = sub(disp[b], push)
			}
		}

		// Attraction along links.
		for _, a := range ids {
			for _, b := range adjacent[a] {
				if a >= b {
					continue // each edge once
				}
				delta := sub(pos[a], pos[b])
				dist := length(delta)
				if dist == 0 {
					dist = 1
					delta = vector{x: 1, y: 0}
				}
				force := dist * dist / k
				pull := scale(delta, force/dist)
				disp[a] = sub(disp[a], pull)
				disp[b] = add(disp[b], pull)
			}
		}

		// Apply displacement capped by temperature, then clamp to the canvas.
		for _, id := range ids {
			d := disp[id]
			dist := length(d)
			if dist > 0 {
				limited := math.Min(dist, temperature)
				p := add(pos[id], scale(d, limited/dist))
				p.x = clamp(p.x, 0, canvasWidth)
				p.y = clamp(p.y, 0, canvasHeight)
				pos[id] = p
			}
		}
	}

	for id, p := range pos {
		positions[id] = models.Position{X: p.x, Y: p.y}
	}

	l.logger.Debug("layout computed",
		zap.Int("devices", n),
		zap.Int("iterations", layoutIterations),
	)

	return positions
}

func add(a, b vector) vector { return vector{a.x + b.x, a.y + b.y} }

func sub(a, b vector) vector { return vector{a.x - b.x, a.y - b.y} }

func scale(v vector, s float64) vector { return vector{v.x * s, v.y * s} }

func length(v vector) float64 { return math.Hypot(v.x, v.y) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
