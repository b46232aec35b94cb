package duplicates

// unionFind is a disjoint-set forest over asset ids. Every root remembers
// the weakest edge that was needed to merge its set.
type unionFind struct {
	parent map[int64]int64
	size   map[int64]int
	weak   map[int64]edge
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[int64]int64),
		size:   make(map[int64]int),
		weak:   make(map[int64]edge),
	}
}

func (u *unionFind) find(id int64) int64 {
	p, ok := u.parent[id]
	if !ok {
		u.parent[id] = id
		u.size[id] = 1
		return id
	}
	if p == id {
		return id
	}
	root := u.find(p)
	u.parent[id] = root
	return root
}

// union merges the sets of e.a and e.b. Edges must arrive strongest first,
// so the edge that performs a merge is the weakest link of the result.
func (u *unionFind) union(e edge) bool {
	ra, rb := u.find(e.a), u.find(e.b)
	if ra == rb {
		return false
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]

	weakest := e
	for _, w := range []edge{u.weak[ra], u.weak[rb]} {
		if w.confidence != "" && w.weaker(weakest) {
			weakest = w
		}
	}
	u.weak[ra] = weakest
	delete(u.weak, rb)
	return true
}

// sets returns every set with at least two members, keyed by root.
func (u *unionFind) sets() map[int64][]int64 {
	out := make(map[int64][]int64)
	for id := range u.parent {
		root := u.find(id)
		out[root] = append(out[root], id)
	}
	for root, ids := range out {
		if len(ids) < 2 {
			delete(out, root)
		}
	}
	return out
}
