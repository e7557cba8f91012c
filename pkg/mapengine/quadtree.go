package mapengine

const (
	quadCapacity = 8
	quadMaxDepth = 16
)

// Quadtree indexes point indices by position for radius queries.
type Quadtree struct {
	bounds   Bounds
	depth    int
	items    []quadItem
	children *[4]Quadtree
}

type quadItem struct {
	p   Point
	idx int
}

// NewQuadtree builds a tree over pts. Query results refer to indices into pts.
func NewQuadtree(pts []Point) *Quadtree {
	b := Bounds{Min: Point{X: 1, Y: 1}, Max: Point{X: 0, Y: 0}}
	for i, p := range pts {
		if i == 0 {
			b = Bounds{Min: p, Max: p}
			continue
		}
		b.Min.X = min(b.Min.X, p.X)
		b.Min.Y = min(b.Min.Y, p.Y)
		b.Max.X = max(b.Max.X, p.X)
		b.Max.Y = max(b.Max.Y, p.Y)
	}
	// Square the root so splits stay balanced on elongated inputs.
	side := max(b.Max.X-b.Min.X, b.Max.Y-b.Min.Y, 1)
	b.Max = Point{X: b.Min.X + side, Y: b.Min.Y + side}

	q := &Quadtree{bounds: b}
	for i, p := range pts {
		q.insert(quadItem{p: p, idx: i})
	}
	return q
}

func (q *Quadtree) insert(it quadItem) {
	if q.children != nil {
		q.child(it.p).insert(it)
		return
	}
	q.items = append(q.items, it)
	if len(q.items) > quadCapacity && q.depth < quadMaxDepth {
		q.split()
	}
}

func (q *Quadtree) split() {
	c := q.bounds.Center()
	q.children = &[4]Quadtree{
		{bounds: Bounds{Min: q.bounds.Min, Max: c}, depth: q.depth + 1},
		{bounds: Bounds{Min: Point{X: c.X, Y: q.bounds.Min.Y}, Max: Point{X: q.bounds.Max.X, Y: c.Y}}, depth: q.depth + 1},
		{bounds: Bounds{Min: Point{X: q.bounds.Min.X, Y: c.Y}, Max: Point{X: c.X, Y: q.bounds.Max.Y}}, depth: q.depth + 1},
		{bounds: Bounds{Min: c, Max: q.bounds.Max}, depth: q.depth + 1},
	}
	items := q.items
	q.items = nil
	for _, it := range items {
		q.child(it.p).insert(it)
	}
}

func (q *Quadtree) child(p Point) *Quadtree {
	c := q.bounds.Center()
	i := 0
	if p.X >= c.X {
		i |= 1
	}
	if p.Y >= c.Y {
		i |= 2
	}
	return &q.children[i]
}

// Within calls fn for every indexed point strictly closer than r to center.
// Visit order is unspecified.
func (q *Quadtree) Within(center Point, r float64, fn func(idx int)) {
	if r <= 0 {
		return
	}
	// Reject nodes whose box lies entirely outside the query circle.
	dx := max(q.bounds.Min.X-center.X, 0, center.X-q.bounds.Max.X)
	dy := max(q.bounds.Min.Y-center.Y, 0, center.Y-q.bounds.Max.Y)
	if dx*dx+dy*dy >= r*r {
		return
	}
	r2 := r * r
	for _, it := range q.items {
		ddx, ddy := it.p.X-center.X, it.p.Y-center.Y
		if ddx*ddx+ddy*ddy < r2 {
			fn(it.idx)
		}
	}
	if q.children != nil {
		for i := range q.children {
			q.children[i].Within(center, r, fn)
		}
	}
}
