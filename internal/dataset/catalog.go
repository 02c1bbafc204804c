package dataset

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Catalog maps record ids back to hashes and hashes to the ids that carry
// them. Lookups are safe from concurrent searches.
type Catalog struct {
	ids    cmap.ConcurrentMap[string, []int64]
	hashes []string
}

func NewCatalog() *Catalog {
	return &Catalog{ids: cmap.New[[]int64]()}
}

// Add registers hash under the next id and returns that id.
func (c *Catalog) Add(hash string) int64 {
	id := int64(len(c.hashes))
	c.hashes = append(c.hashes, hash)
	c.ids.Upsert(normalize(hash), []int64{id}, func(exist bool, old, new []int64) []int64 {
		if exist {
			return append(old, new...)
		}
		return new
	})
	return id
}

// Hash returns the hash stored under id.
func (c *Catalog) Hash(id int64) (string, bool) {
	if id < 0 || id >= int64(len(c.hashes)) {
		return "", false
	}
	return c.hashes[id], true
}

// IDs returns every id registered for hash, case-insensitively.
func (c *Catalog) IDs(hash string) []int64 {
	ids, _ := c.ids.Get(normalize(hash))
	return ids
}

// Contains reports whether hash is registered.
func (c *Catalog) Contains(hash string) bool {
	return c.ids.Has(normalize(hash))
}

func (c *Catalog) Len() int {
	return len(c.hashes)
}

// Distinct is the number of different hashes registered.
func (c *Catalog) Distinct() int {
	return c.ids.Count()
}

func normalize(hash string) string {
	return strings.ToLower(hash)
}

// Dedupe drops records whose hash was already seen, keeping the first.
func Dedupe(records []Record) []Record {
	seen := cmap.New[struct{}]()
	out := records[:0:0]
	for _, r := range records {
		if seen.SetIfAbsent(normalize(r.Hash), struct{}{}) {
			out = append(out, r)
		}
	}
	return out
}
