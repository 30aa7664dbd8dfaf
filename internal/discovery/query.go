package discovery

import (
	"container/heap"
	"math"
	"sort"
	"strings"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// WeightFunc assigns a traversal cost to a link. The default uniform weight
// makes shortest-path behave like BFS; measured metrics can replace it later.
type WeightFunc func(l *models.TopologyLink) float64

// UniformWeight costs every link 1.
func UniformWeight(*models.TopologyLink) float64 { return 1 }

// QueryService answers read-only graph queries over point-in-time snapshots
// of the graph store. It never observes a half-updated graph.
type QueryService struct {
	graph  *GraphStore
	weight WeightFunc
}

// NewQueryService creates a query service. A nil weight func selects the
// uniform weight.
func NewQueryService(graph *GraphStore, weight WeightFunc) *QueryService {
	if weight == nil {
		weight = UniformWeight
	}
	return &QueryService{graph: graph, weight: weight}
}

// Topology returns a consistent snapshot of the full graph.
func (q *QueryService) Topology() models.TopologyGraph {
	return q.graph.Snapshot()
}

// SearchDevices returns every device whose name, address, vendor, or model
// contains the query text, case-insensitively. No ranking; results are
// sorted by id for stable output.
func (q *QueryService) SearchDevices(text string) []*models.NetworkDevice {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}

	snap := q.graph.Snapshot()
	var out []*models.NetworkDevice
	for _, d := range snap.Devices {
		haystack := strings.ToLower(strings.Join([]string{
			d.Hostname, d.IPAddress, d.Vendor, d.Model,
		}, "\x00"))
		if strings.Contains(haystack, needle) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeviceNeighbors returns every device on the opposite end of a link touching
// the given device, sorted by id. Returns nil when the device is unknown.
func (q *QueryService) DeviceNeighbors(deviceID string) []*models.NetworkDevice {
	snap := q.graph.Snapshot()
	if _, ok := snap.Devices[deviceID]; !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []*models.NetworkDevice
	for _, l := range snap.Links {
		var other string
		switch deviceID {
		case l.SourceID:
			other = l.TargetID
		case l.TargetID:
			other = l.SourceID
		default:
			continue
		}
		if seen[other] {
			continue
		}
		seen[other] = true
		if d, ok := snap.Devices[other]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShortestPath returns the ordered device-id path from source to target, or
// nil when either id is absent or the target is unreachable. A device is
// always reachable from itself with a path of length one.
func (q *QueryService) ShortestPath(sourceID, targetID string) []string {
	snap := q.graph.Snapshot()

	if _, ok := snap.Devices[sourceID]; !ok {
		return nil
	}
	if _, ok := snap.Devices[targetID]; !ok {
		return nil
	}
	if sourceID == targetID {
		return []string{sourceID}
	}

	type edge struct {
		to   string
		cost float64
	}
	adjacent := make(map[string][]edge, len(snap.Devices))
	for _, l := range snap.Links {
		cost := q.weight(l)
		adjacent[l.SourceID] = append(adjacent[l.SourceID], edge{to: l.TargetID, cost: cost})
		adjacent[l.TargetID] = append(adjacent[l.TargetID], edge{to: l.SourceID, cost: cost})
	}

	dist := map[string]float64{sourceID: 0}
	prev := make(map[string]string)
	visited := make(map[string]bool)

	pq := &pathQueue{{id: sourceID, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pathItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == targetID {
			break
		}

		for _, e := range adjacent[cur.id] {
			if visited[e.to] {
				continue
			}
			alt := cur.dist + e.cost
			if best, ok := dist[e.to]; !ok || alt < best {
				dist[e.to] = alt
				prev[e.to] = cur.id
				heap.Push(pq, pathItem{id: e.to, dist: alt})
			}
		}
	}

	if _, ok := dist[targetID]; !ok || math.IsInf(dist[targetID], 1) {
		return nil
	}
	if !visited[targetID] {
		return nil
	}

	// Walk predecessors back to the source.
	path := []string{targetID}
	for cur := targetID; cur != sourceID; {
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		path = append(path, p)
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

type pathItem struct {
	id   string
	dist float64
}

// pathQueue is a min-heap of path items ordered by tentative distance.
type pathQueue []pathItem

func (q pathQueue) Len() int           { return len(q) }
func (q pathQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)        { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
