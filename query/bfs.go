package query

import (
	"context"

	"github.com/google/uuid"
)

// expandHit is one node discovered by the waypoint BFS, carrying enough
// to both score it (path, weight) and later reinforce the edge that
// found it (parent).
type expandHit struct {
	path   int
	weight float64
	parent uuid.UUID
}

type bfsQueueItem struct {
	id     uuid.UUID
	weight float64
	path   int
}

// expand performs §4.5 step 6's waypoint BFS: starting from every seed
// at weight 1.0, following edges with child weight =
// parent.weight*edge.weight*BFSChildDecay, stopping a branch below
// BFSWeightFloor, visiting at most BFSMaxNeighborsK*k new nodes total,
// and skipping self-loops per §9's resolved Open Question.
func (e *Engine) expand(ctx context.Context, seeds []uuid.UUID, k int) (map[uuid.UUID]expandHit, error) {
	visited := make(map[uuid.UUID]bool, len(seeds))
	for _, s := range seeds {
		visited[s] = true
	}

	queue := make([]bfsQueueItem, 0, len(seeds))
	for _, s := range seeds {
		queue = append(queue, bfsQueueItem{id: s, weight: 1.0, path: 0})
	}

	maxVisits := e.Config.BFSMaxNeighborsK * k
	if maxVisits <= 0 {
		maxVisits = 1
	}

	result := make(map[uuid.UUID]expandHit)
	visits := 0
	for len(queue) > 0 && visits < maxVisits {
		cur := queue[0]
		queue = queue[1:]

		neighbors, err := e.Graph.Neighbors(ctx, cur.id, "")
		if err != nil {
			return nil, err
		}
		for _, w := range neighbors {
			if w.DstID == w.SrcID {
				continue // self-loops are durable markers, not traversal edges
			}
			childWeight := cur.weight * w.Weight * e.Config.BFSChildDecay
			if childWeight < e.Config.BFSWeightFloor {
				continue
			}
			if visited[w.DstID] {
				continue
			}
			visited[w.DstID] = true
			result[w.DstID] = expandHit{path: cur.path + 1, weight: childWeight, parent: cur.id}
			queue = append(queue, bfsQueueItem{id: w.DstID, weight: childWeight, path: cur.path + 1})
			visits++
			if visits >= maxVisits {
				break
			}
		}
	}
	return result, nil
}
