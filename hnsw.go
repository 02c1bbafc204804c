// Package fuzzyhnsw is a hierarchical navigable small world graph over
// fixed-width uint32 word vectors, the shape fuzzy-hash digests take once
// their hex text is regrouped into 32-bit words. Distances are bit-level
// (Hamming, Jaccard) so that a one bit change in a digest moves it by one.
package fuzzyhnsw

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/Bing-dwendwen/fuzzyhnsw/bitsetpool"
	"github.com/Bing-dwendwen/fuzzyhnsw/distqueue"
	"github.com/Bing-dwendwen/fuzzyhnsw/u32"
)

var usePOPCNT bool
var maxWorkers int

type DistanceFunction func([]uint32, []uint32) float32

var DefaultDistFunc DistanceFunction

type MetricType string

const (
	Hamming MetricType = "HAMMING"
	Jaccard MetricType = "JACCARD"
)

func init() {
	usePOPCNT = cpu.X86.HasPOPCNT
	maxWorkers = runtime.NumCPU()

	if usePOPCNT {
		DefaultDistFunc = u32.Hamming4
	} else {
		DefaultDistFunc = u32.Hamming
	}
}

// DistFuncFor returns the distance kernel for a metric.
func DistFuncFor(metric MetricType) (DistanceFunction, error) {
	switch metric.Canonical() {
	case Hamming:
		return DefaultDistFunc, nil
	case Jaccard:
		return u32.Jaccard, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMetric, string(metric))
	}
}

type Point []uint32

func (a Point) Size() int {
	return len(a) * 4
}

type node struct {
	sync.RWMutex
	p       Point
	level   int
	friends [][]uint32
}

type Hnsw struct {
	sync.RWMutex
	M              int
	M0             int
	efConstruction int
	DelaunayType   int
	nextID         uint32
	dim            int

	Metric   MetricType
	DistFunc DistanceFunction

	nodes []node

	bitset *bitsetpool.BitsetPool

	LevelMult  float64
	maxLayer   int
	enterpoint uint32

	rngMu sync.Mutex
	rng   *rand.Rand
}

func (h *Hnsw) ChoiceDistPolicy(metric MetricType) error {
	f, err := DistFuncFor(metric)
	if err != nil {
		return err
	}
	h.Metric = metric.Canonical()
	h.DistFunc = f
	slog.Debug("distance policy selected", "metric", string(h.Metric), "popcnt", usePOPCNT)
	return nil
}

func (h *Hnsw) getFriends(n uint32, level int) []uint32 {
	if len(h.nodes[n].friends) < level+1 {
		return make([]uint32, 0)
	}
	return h.nodes[n].friends[level]
}

// NextID is the id the most recent AddPoint handed out.
func (h *Hnsw) NextID() uint32 {
	return atomic.LoadUint32(&h.nextID)
}

// Len is the number of records in the graph.
func (h *Hnsw) Len() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.nodes)
}

// Dim is the word count every vector in the graph has.
func (h *Hnsw) Dim() int {
	h.RLock()
	defer h.RUnlock()
	return h.dim
}

func (h *Hnsw) Link(first, second uint32, level int) {
	maxL := h.M
	if level == 0 {
		maxL = h.M0
	}

	h.RLock()
	node := &h.nodes[first]
	h.RUnlock()

	node.Lock()

	// check if we have allocated friends slices up to this level?
	if len(node.friends) < level+1 {
		for j := len(node.friends); j <= level; j++ {
			// allocate new list with 0 elements but capacity maxL
			node.friends = append(node.friends, make([]uint32, 0, maxL))
		}
		// now grow it by one and add the first connection for this layer
		node.friends[level] = node.friends[level][0:1]
		node.friends[level][0] = second

	} else {
		// we did have some already... this will allocate more space if it overflows maxL
		node.friends[level] = append(node.friends[level], second)
	}

	l := len(node.friends[level])

	if l > maxL {

		// to many links, deal with it

		switch h.DelaunayType {
		case 0:
			resultSet := &distqueue.DistQueueClosestLast{Size: len(node.friends[level])}

			for _, n := range node.friends[level] {
				resultSet.Push(n, h.DistFunc(node.p, h.nodes[n].p))
			}
			for resultSet.Len() > maxL {
				resultSet.Pop()
			}
			// FRIENDS ARE STORED IN DISTANCE ORDER, closest at index 0
			node.friends[level] = node.friends[level][0:maxL]
			for i := maxL - 1; i >= 0; i-- {
				item := resultSet.Pop()
				node.friends[level][i] = item.ID
			}

		case 1:

			resultSet := &distqueue.DistQueueClosestFirst{Size: len(node.friends[level])}

			for _, n := range node.friends[level] {
				resultSet.Push(n, h.DistFunc(node.p, h.nodes[n].p))
			}
			h.getNeighborsByHeuristicClosestFirst(resultSet, maxL)

			// FRIENDS ARE STORED IN DISTANCE ORDER, closest at index 0
			node.friends[level] = node.friends[level][0:resultSet.Len()]
			for i := range node.friends[level] {
				item := resultSet.Pop()
				node.friends[level][i] = item.ID
			}
		}
	}
	node.Unlock()
}

func (h *Hnsw) getNeighborsByHeuristicClosestLast(resultSet1 *distqueue.DistQueueClosestLast, M int) {
	if resultSet1.Len() <= M {
		return
	}
	resultSet := &distqueue.DistQueueClosestFirst{Size: resultSet1.Len()}
	tempList := &distqueue.DistQueueClosestFirst{Size: resultSet1.Len()}
	result := make([]*distqueue.Item, 0, M)
	for resultSet1.Len() > 0 {
		resultSet.PushItem(resultSet1.Pop())
	}
	for resultSet.Len() > 0 {
		if len(result) >= M {
			break
		}
		e := resultSet.Pop()
		good := true
		for _, r := range result {
			if h.DistFunc(h.nodes[r.ID].p, h.nodes[e.ID].p) < e.D {
				good = false
				break
			}
		}
		if good {
			result = append(result, e)
		} else {
			tempList.PushItem(e)
		}
	}
	for len(result) < M && tempList.Len() > 0 {
		result = append(result, tempList.Pop())
	}
	for _, item := range result {
		resultSet1.PushItem(item)
	}
}

func (h *Hnsw) getNeighborsByHeuristicClosestFirst(resultSet *distqueue.DistQueueClosestFirst, M int) {
	if resultSet.Len() <= M {
		return
	}
	tempList := &distqueue.DistQueueClosestFirst{Size: resultSet.Len()}
	result := make([]*distqueue.Item, 0, M)
	for resultSet.Len() > 0 {
		if len(result) >= M {
			break
		}
		e := resultSet.Pop()
		good := true
		for _, r := range result {
			if h.DistFunc(h.nodes[r.ID].p, h.nodes[e.ID].p) < e.D {
				good = false
				break
			}
		}
		if good {
			result = append(result, e)
		} else {
			tempList.PushItem(e)
		}
	}
	for len(result) < M && tempList.Len() > 0 {
		result = append(result, tempList.Pop())
	}
	resultSet.Reset()

	for _, item := range result {
		resultSet.PushItem(item)
	}
}

// New creates a graph whose first record, id 0, is first. It also becomes the
// initial enterpoint.
func New(M int, efConstruction int, first Point, metric MetricType) (*Hnsw, error) {
	h := &Hnsw{}
	if err := h.reset(M, efConstruction, first, metric, DefaultSeed); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hnsw) reset(M int, efConstruction int, first Point, metric MetricType, seed int64) error {
	h.Lock()
	defer h.Unlock()

	if err := h.ChoiceDistPolicy(metric); err != nil {
		return err
	}
	h.M = M
	// default values used in c++ implementation
	h.LevelMult = 1 / math.Log(float64(M))
	h.efConstruction = efConstruction
	h.M0 = 2 * M
	h.DelaunayType = 1
	h.dim = len(first)
	h.maxLayer = 0
	h.enterpoint = 0
	atomic.StoreUint32(&h.nextID, 0)

	h.bitset = bitsetpool.New()
	h.rng = rand.New(rand.NewSource(seed))

	h.nodes = []node{{level: 0, p: first}}
	return nil
}

func (h *Hnsw) Stats() string {
	h.RLock()
	defer h.RUnlock()

	var str strings.Builder
	str.WriteString("HNSW Index\n")
	str.WriteString(fmt.Sprintf("Metric: %v, dim: %v words\n", h.Metric, h.dim))
	str.WriteString(fmt.Sprintf("M: %v, efConstruction: %v\n", h.M, h.efConstruction))
	str.WriteString(fmt.Sprintf("DelaunayType: %v\n", h.DelaunayType))
	str.WriteString(fmt.Sprintf("Number of nodes: %v\n", len(h.nodes)))
	str.WriteString(fmt.Sprintf("Max layer: %v\n", h.maxLayer))
	if len(h.nodes) == 0 {
		return str.String()
	}
	memoryUseData := 0
	memoryUseIndex := 0
	levCount := make([]int, h.maxLayer+1)
	conns := make([]int, h.maxLayer+1)
	connsC := make([]int, h.maxLayer+1)
	for i := range h.nodes {
		levCount[h.nodes[i].level]++
		for j := 0; j <= h.nodes[i].level; j++ {
			if len(h.nodes[i].friends) > j {
				l := len(h.nodes[i].friends[j])
				conns[j] += l
				connsC[j]++
			}
		}
		memoryUseData += h.nodes[i].p.Size()
		memoryUseIndex += h.nodes[i].level*h.M*4 + h.M0*4
	}
	for i := range levCount {
		avg := conns[i] / max(1, connsC[i])
		str.WriteString(fmt.Sprintf("Level %v: %v nodes, average number of connections %v\n", i, levCount[i], avg))
	}
	str.WriteString(fmt.Sprintf("Memory use for data: %v (%v bytes / point)\n", memoryUseData, memoryUseData/len(h.nodes)))
	str.WriteString(fmt.Sprintf("Memory use for index: %v (avg %v bytes / point)\n", memoryUseIndex, memoryUseIndex/len(h.nodes)))

	return str.String()
}

// Grow reserves room for size records so Add never reallocates the node slice
// underneath a concurrent Link.
func (h *Hnsw) Grow(size int) {
	h.Lock()
	defer h.Unlock()
	if size <= cap(h.nodes) {
		return
	}
	newNodes := make([]node, len(h.nodes), size)
	for i := range h.nodes {
		newNodes[i].p = h.nodes[i].p
		newNodes[i].level = h.nodes[i].level
		newNodes[i].friends = h.nodes[i].friends
	}
	h.nodes = newNodes
}

// AddPoint inserts q under the next free id and returns that id.
func (h *Hnsw) AddPoint(q Point) (uint32, error) {
	id := atomic.AddUint32(&h.nextID, 1)
	if err := h.Add(q, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (h *Hnsw) randomLevel() int {
	h.rngMu.Lock()
	f := h.rng.Float64()
	h.rngMu.Unlock()
	return int(math.Floor(-math.Log(1-f) * h.LevelMult))
}

func (h *Hnsw) Add(q Point, id uint32) error {
	if id == 0 {
		return fmt.Errorf("%w: id 0 is the first point passed to New", ErrInvalidConfig)
	}
	if len(q) != h.dim {
		return &ErrDimensionMismatch{Expected: h.dim, Actual: len(q)}
	}

	curlevel := h.randomLevel()

	h.RLock()
	epID := h.enterpoint
	currentMaxLayer := h.nodes[epID].level
	ep := &distqueue.Item{ID: epID, D: h.DistFunc(h.nodes[epID].p, q)}
	h.RUnlock()

	newID := id
	newNode := node{p: q, level: curlevel, friends: make([][]uint32, min(curlevel, currentMaxLayer)+1)}

	// first pass, find another ep if curlevel < maxLayer
	for level := currentMaxLayer; level > curlevel; level-- {
		changed := true
		for changed {
			changed = false
			for _, i := range h.getFriends(ep.ID, level) {
				d := h.DistFunc(h.nodes[i].p, q)
				if d < ep.D {
					ep = &distqueue.Item{ID: i, D: d}
					changed = true
				}
			}
		}
	}

	// second pass, ef = efConstruction
	// loop through every level from the new nodes level down to level 0
	// create new connections in every layer

	initialLevel := min(curlevel, currentMaxLayer)
	if maxWorkers == 1 {
		h.sequentialEfConstruction(&newNode, initialLevel, q, ep)
	} else {
		h.concurrentEfConstruction(&newNode, initialLevel, q, ep)
	}

	h.Lock()
	// Add it and increase slice length if necessary
	if len(h.nodes) < int(newID)+1 {
		if cap(h.nodes) < int(newID)+1 {
			grown := make([]node, len(h.nodes), 2*(int(newID)+1))
			for i := range h.nodes {
				grown[i].p = h.nodes[i].p
				grown[i].level = h.nodes[i].level
				grown[i].friends = h.nodes[i].friends
			}
			h.nodes = grown
		}
		h.nodes = h.nodes[0 : newID+1]
	}
	h.nodes[newID].p = newNode.p
	h.nodes[newID].level = newNode.level
	h.nodes[newID].friends = newNode.friends
	h.Unlock()

	// now add connections to newNode from newNodes neighbours (makes it visible in the graph)
	for level := initialLevel; level >= 0; level-- {
		for _, n := range newNode.friends[level] {
			h.Link(n, newID, level)
		}
	}

	h.Lock()
	if curlevel > h.maxLayer {
		h.maxLayer = curlevel
		h.enterpoint = newID
	}
	h.Unlock()
	return nil
}

type levelData struct {
	Data  []uint32
	Level int
}

func (h *Hnsw) efConstructionWorker(workChan chan int, dataChan chan levelData, q Point, ep *distqueue.Item, wg *sync.WaitGroup) {
	for level := range workChan {
		dataChan <- levelData{
			Level: level,
			Data:  h.efConstructLevel(level, q, ep),
		}
		wg.Done()
	}
}

func (h *Hnsw) concurrentEfConstruction(node *node, currentLevel int, q Point, ep *distqueue.Item) {
	stream := make(chan levelData, maxWorkers*2)
	workChan := make(chan int, 1)
	wg := &sync.WaitGroup{}
	wg2 := &sync.WaitGroup{}

	wg2.Add(1)
	go func() {
		defer wg2.Done()
		for data := range stream {
			node.friends[data.Level] = data.Data
		}
	}()

	workers := min(maxWorkers, currentLevel+1)
	for i := 0; i < workers; i++ {
		go h.efConstructionWorker(workChan, stream, q, ep, wg)
	}

	for level := currentLevel; level >= 0; level-- {
		wg.Add(1)
		workChan <- level
	}

	wg.Wait()
	close(workChan)
	close(stream)
	wg2.Wait()
}

func (h *Hnsw) sequentialEfConstruction(node *node, currentLevel int, q Point, ep *distqueue.Item) {
	for level := currentLevel; level >= 0; level-- {
		node.friends[level] = h.efConstructLevel(level, q, ep)
	}
}

func (h *Hnsw) efConstructLevel(level int, q Point, ep *distqueue.Item) []uint32 {
	resultSet := &distqueue.DistQueueClosestLast{}
	h.searchAtLayer(q, resultSet, h.efConstruction, ep, level, nil)

	switch h.DelaunayType {
	case 0:
		// shrink resultSet to M closest elements (the simple heuristic)
		for resultSet.Len() > h.M {
			resultSet.Pop()
		}
	case 1:
		h.getNeighborsByHeuristicClosestLast(resultSet, h.M)
	}

	info := make([]uint32, resultSet.Len())
	for i := resultSet.Len() - 1; i >= 0; i-- {
		item := resultSet.Pop()
		// store in order, closest at index 0
		info[i] = item.ID
	}

	return info
}

// searchAtLayer runs the ef-bounded best-first search of one layer. Nodes for
// which allow returns false are still traversed but never enter resultSet.
func (h *Hnsw) searchAtLayer(q Point, resultSet *distqueue.DistQueueClosestLast, ef int, ep *distqueue.Item, level int, allow func(uint32) bool) {
	var pool, visited = h.bitset.Get()

	candidates := &distqueue.DistQueueClosestFirst{Size: ef * 3}

	visited.Set(uint(ep.ID))
	candidates.Push(ep.ID, ep.D)

	if allow == nil || allow(ep.ID) {
		resultSet.Push(ep.ID, ep.D)
	}

	for candidates.Len() > 0 {
		c := candidates.Pop()

		if resultSet.Len() >= ef {
			_, lowerBound := resultSet.Top() // worst distance so far
			if c.D > lowerBound {
				// since candidates is sorted, it wont get any better...
				break
			}
		}

		if len(h.nodes[c.ID].friends) >= level+1 {
			friends := h.nodes[c.ID].friends[level]
			for _, n := range friends {
				if visited.Test(uint(n)) {
					continue
				}
				visited.Set(uint(n))
				d := h.DistFunc(q, h.nodes[n].p)
				ok := allow == nil || allow(n)
				if resultSet.Len() < ef {
					candidates.Push(n, d)
					if ok {
						resultSet.Push(n, d)
					}
				} else if _, topD := resultSet.Top(); topD > d {
					candidates.Push(n, d)
					if ok {
						// keep length of resultSet to max ef
						resultSet.PopAndPush(n, d)
					}
				}
			}
		}
	}
	h.bitset.Free(pool)
}

// SearchBrute returns the true K nearest neigbours to search point q
func (h *Hnsw) SearchBrute(q Point, K int) *distqueue.DistQueueClosestLast {
	h.RLock()
	defer h.RUnlock()
	resultSet := &distqueue.DistQueueClosestLast{Size: K}
	for i := range h.nodes {
		d := h.DistFunc(h.nodes[i].p, q)
		if resultSet.Len() < K {
			resultSet.Push(uint32(i), d)
			continue
		}
		_, topD := resultSet.Head()
		if d < topD {
			resultSet.PopAndPush(uint32(i), d)
			continue
		}
	}
	return resultSet
}

// Benchmark test precision by comparing the results of SearchBrute and SearchKNN
func (h *Hnsw) Benchmark(q Point, ef int, K int) float64 {
	result := h.SearchKNN(q, ef, K)
	groundTruth := h.SearchBrute(q, K)
	truth := make([]uint32, 0, K)
	for groundTruth.Len() > 0 {
		truth = append(truth, groundTruth.Pop().ID)
	}
	p := 0
	for result.Len() > 0 {
		i := result.Pop()
		for _, t := range truth {
			if t == i.ID {
				p++
			}
		}
	}
	return float64(p) / float64(K)
}

// SearchKNN returns the approximate K nearest records to q, farthest on top.
func (h *Hnsw) SearchKNN(q Point, ef int, K int) *distqueue.DistQueueClosestLast {
	return h.searchFiltered(q, ef, K, nil)
}

func (h *Hnsw) searchFiltered(q Point, ef int, K int, allow func(uint32) bool) *distqueue.DistQueueClosestLast {
	ef = max(ef, K)

	h.RLock()
	currentMaxLayer := h.maxLayer
	ep := &distqueue.Item{ID: h.enterpoint, D: h.DistFunc(h.nodes[h.enterpoint].p, q)}
	h.RUnlock()

	resultSet := &distqueue.DistQueueClosestLast{Size: ef + 1}
	// first pass, find best ep
	for level := currentMaxLayer; level > 0; level-- {
		changed := true
		for changed {
			changed = false
			for _, i := range h.getFriends(ep.ID, level) {
				d := h.DistFunc(h.nodes[i].p, q)
				if d < ep.D {
					ep.ID, ep.D = i, d
					changed = true
				}
			}
		}
	}
	h.searchAtLayer(q, resultSet, ef, ep, 0, allow)

	for resultSet.Len() > K {
		resultSet.Pop()
	}
	return resultSet
}
