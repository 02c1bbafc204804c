// Package distqueue implements the two binary heaps the graph search needs:
// one that pops the closest item first (candidates) and one that pops the
// farthest item first (bounded result sets).
package distqueue

type Item struct {
	ID uint32
	D  float32
}

// DistQueueClosestFirst pops the item with the smallest distance first.
type DistQueueClosestFirst struct {
	initiated bool
	items     []*Item
	Size      int
}

func (pq *DistQueueClosestFirst) Init() *DistQueueClosestFirst {
	pq.items = make([]*Item, 1, pq.Size+1)
	pq.items[0] = nil // first element is never used
	pq.initiated = true
	return pq
}

func (pq *DistQueueClosestFirst) Reset() {
	if !pq.initiated {
		pq.Init()
		return
	}
	pq.items = pq.items[0:1]
}

// Top returns the closest item without removing it.
func (pq *DistQueueClosestFirst) Top() (uint32, float32) {
	if len(pq.items) <= 1 {
		return 0, 0
	}
	return pq.items[1].ID, pq.items[1].D
}

func (pq *DistQueueClosestFirst) Head() (uint32, float32) {
	return pq.Top()
}

func (pq *DistQueueClosestFirst) Len() int {
	if !pq.initiated {
		return 0
	}
	return len(pq.items) - 1
}

func (pq *DistQueueClosestFirst) Push(id uint32, d float32) *Item {
	item := &Item{ID: id, D: d}
	pq.PushItem(item)
	return item
}

func (pq *DistQueueClosestFirst) PushItem(item *Item) {
	if !pq.initiated {
		pq.Init()
	}
	pq.items = append(pq.items, item)
	pq.swim(len(pq.items) - 1)
}

func (pq *DistQueueClosestFirst) Pop() *Item {
	if pq.Len() == 0 {
		return nil
	}
	n := len(pq.items) - 1
	pq.items[1], pq.items[n] = pq.items[n], pq.items[1]
	item := pq.items[n]
	pq.items[n] = nil
	pq.items = pq.items[0:n]
	pq.sink(1)
	return item
}

func (pq *DistQueueClosestFirst) swim(k int) {
	for k > 1 && pq.items[k].D < pq.items[k/2].D {
		pq.items[k], pq.items[k/2] = pq.items[k/2], pq.items[k]
		k = k / 2
	}
}

func (pq *DistQueueClosestFirst) sink(k int) {
	n := len(pq.items) - 1
	for 2*k <= n {
		j := 2 * k
		if j < n && pq.items[j+1].D < pq.items[j].D {
			j++
		}
		if !(pq.items[j].D < pq.items[k].D) {
			break
		}
		pq.items[k], pq.items[j] = pq.items[j], pq.items[k]
		k = j
	}
}

// DistQueueClosestLast pops the item with the largest distance first, which
// makes Top the current worst member of a bounded result set.
type DistQueueClosestLast struct {
	initiated bool
	items     []*Item
	Size      int
}

func (pq *DistQueueClosestLast) Init() *DistQueueClosestLast {
	pq.items = make([]*Item, 1, pq.Size+1)
	pq.items[0] = nil
	pq.initiated = true
	return pq
}

func (pq *DistQueueClosestLast) Reset() {
	if !pq.initiated {
		pq.Init()
		return
	}
	pq.items = pq.items[0:1]
}

// Top returns the farthest item without removing it.
func (pq *DistQueueClosestLast) Top() (uint32, float32) {
	if len(pq.items) <= 1 {
		return 0, 0
	}
	return pq.items[1].ID, pq.items[1].D
}

func (pq *DistQueueClosestLast) Head() (uint32, float32) {
	return pq.Top()
}

func (pq *DistQueueClosestLast) Len() int {
	if !pq.initiated {
		return 0
	}
	return len(pq.items) - 1
}

func (pq *DistQueueClosestLast) Push(id uint32, d float32) *Item {
	item := &Item{ID: id, D: d}
	pq.PushItem(item)
	return item
}

func (pq *DistQueueClosestLast) PushItem(item *Item) {
	if !pq.initiated {
		pq.Init()
	}
	pq.items = append(pq.items, item)
	pq.swim(len(pq.items) - 1)
}

// PopAndPush replaces the farthest item with a new one in a single sift.
func (pq *DistQueueClosestLast) PopAndPush(id uint32, d float32) *Item {
	item := &Item{ID: id, D: d}
	if pq.Len() == 0 {
		pq.PushItem(item)
		return item
	}
	pq.items[1] = item
	pq.sink(1)
	return item
}

func (pq *DistQueueClosestLast) Pop() *Item {
	if pq.Len() == 0 {
		return nil
	}
	n := len(pq.items) - 1
	pq.items[1], pq.items[n] = pq.items[n], pq.items[1]
	item := pq.items[n]
	pq.items[n] = nil
	pq.items = pq.items[0:n]
	pq.sink(1)
	return item
}

func (pq *DistQueueClosestLast) swim(k int) {
	for k > 1 && pq.items[k].D > pq.items[k/2].D {
		pq.items[k], pq.items[k/2] = pq.items[k/2], pq.items[k]
		k = k / 2
	}
}

func (pq *DistQueueClosestLast) sink(k int) {
	n := len(pq.items) - 1
	for 2*k <= n {
		j := 2 * k
		if j < n && pq.items[j+1].D > pq.items[j].D {
			j++
		}
		if !(pq.items[j].D > pq.items[k].D) {
			break
		}
		pq.items[k], pq.items[j] = pq.items[j], pq.items[k]
		k = j
	}
}
