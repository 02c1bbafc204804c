// Package bitsetpool hands out cleared visited-sets to concurrent graph searches.
package bitsetpool

import (
	"sync"

	"github.com/willf/bitset"
)

type BitsetPool struct {
	sync.Mutex
	free   []int
	bitset []*bitset.BitSet
}

func New() *BitsetPool {
	return &BitsetPool{
		free:   make([]int, 0),
		bitset: make([]*bitset.BitSet, 0),
	}
}

// Free returns bitset i to the pool. It is cleared on the next Get.
func (p *BitsetPool) Free(i int) {
	p.Lock()
	p.free = append(p.free, i)
	p.Unlock()
}

// Get returns a handle and an empty bitset. Pass the handle to Free when done.
func (p *BitsetPool) Get() (int, *bitset.BitSet) {
	p.Lock()
	defer p.Unlock()
	if len(p.free) == 0 {
		p.free = append(p.free, len(p.bitset))
		p.bitset = append(p.bitset, bitset.New(0))
	}
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.bitset[id].ClearAll()
	return id, p.bitset[id]
}

// Len reports how many bitsets the pool has allocated so far.
func (p *BitsetPool) Len() int {
	p.Lock()
	defer p.Unlock()
	return len(p.bitset)
}
