package fuzzyhnsw

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Bing-dwendwen/fuzzyhnsw/bitsetpool"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/codec"
)

const (
	graphMagic   = "FHNW"
	fileMagic    = "FHNF"
	graphVersion = 1

	// guards against allocating absurd slices from a corrupt length prefix
	maxSliceLen = 1 << 28
)

type binWriter struct {
	w   io.Writer
	err error
}

func (b *binWriter) write(v any) {
	if b.err != nil {
		return
	}
	b.err = binary.Write(b.w, binary.LittleEndian, v)
}

func (b *binWriter) writeInt32(v int) {
	b.write(int32(v))
}

func (b *binWriter) writeString(s string) {
	b.writeInt32(len(s))
	b.write([]byte(s))
}

type binReader struct {
	r   io.Reader
	err error
}

func (b *binReader) read(v any) {
	if b.err != nil {
		return
	}
	b.err = binary.Read(b.r, binary.LittleEndian, v)
}

func (b *binReader) readInt32() int {
	var i int32
	b.read(&i)
	return int(i)
}

func (b *binReader) readLen() int {
	l := b.readInt32()
	if b.err == nil && (l < 0 || l > maxSliceLen) {
		b.err = fmt.Errorf("%w: length %d out of range", ErrCorruptIndex, l)
	}
	if b.err != nil {
		return 0
	}
	return l
}

func (b *binReader) readFloat64() (v float64) {
	b.read(&v)
	return
}

func (b *binReader) readString() string {
	l := b.readLen()
	if b.err != nil {
		return ""
	}
	buf := make([]byte, l)
	b.read(buf)
	return string(buf)
}

// Serialize writes the graph in its uncompressed binary form.
func (h *Hnsw) Serialize(w io.Writer) error {
	h.RLock()
	defer h.RUnlock()

	if len(h.nodes) == 0 {
		return ErrIndexNotBuilt
	}

	bw := bufio.NewWriter(w)
	b := &binWriter{w: bw}

	b.write([]byte(graphMagic))
	b.writeInt32(graphVersion)
	b.writeString(string(h.Metric))
	b.writeInt32(h.dim)
	b.writeInt32(h.M)
	b.writeInt32(h.M0)
	b.writeInt32(h.efConstruction)
	b.writeInt32(h.DelaunayType)
	b.write(h.LevelMult)
	b.writeInt32(h.maxLayer)
	b.writeInt32(int(h.enterpoint))
	b.writeInt32(int(atomic.LoadUint32(&h.nextID)))

	b.writeInt32(len(h.nodes))
	for i := range h.nodes {
		n := &h.nodes[i]
		b.writeInt32(len(n.p))
		b.write([]uint32(n.p))
		b.writeInt32(n.level)

		b.writeInt32(len(n.friends))
		for _, f := range n.friends {
			b.writeInt32(len(f))
			b.write(f)
		}
	}
	if b.err != nil {
		return b.err
	}
	return bw.Flush()
}

// Deserialize replaces the graph with one written by Serialize. A non-zero
// cfg.Dim or a set cfg.MetricType must agree with what was stored.
func (h *Hnsw) Deserialize(r io.Reader, cfg Config) error {
	b := &binReader{r: bufio.NewReader(r)}

	magic := make([]byte, len(graphMagic))
	b.read(magic)
	if b.err == nil && string(magic) != graphMagic {
		return fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, magic)
	}
	if v := b.readInt32(); b.err == nil && v != graphVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}

	metric := MetricType(b.readString())
	dim := b.readInt32()
	M := b.readInt32()
	M0 := b.readInt32()
	efConstruction := b.readInt32()
	delaunay := b.readInt32()
	levelMult := b.readFloat64()
	maxLayer := b.readInt32()
	enterpoint := b.readInt32()
	nextID := b.readInt32()

	nodes := make([]node, b.readLen())
	for i := range nodes {
		p := make(Point, b.readLen())
		b.read([]uint32(p))
		nodes[i].p = p
		nodes[i].level = b.readInt32()

		nodes[i].friends = make([][]uint32, b.readLen())
		for j := range nodes[i].friends {
			f := make([]uint32, b.readLen())
			b.read(f)
			nodes[i].friends[j] = f
		}
		if b.err != nil {
			break
		}
	}
	if b.err != nil {
		if errors.Is(b.err, io.EOF) || errors.Is(b.err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %w", ErrCorruptIndex, b.err)
		}
		return b.err
	}

	if err := checkGraph(nodes, dim, enterpoint, maxLayer); err != nil {
		return err
	}
	if cfg.Dim != 0 && cfg.Dim != dim {
		return &ErrDimensionMismatch{Expected: cfg.Dim, Actual: dim}
	}
	if cfg.MetricType != "" && cfg.MetricType.Canonical() != metric.Canonical() {
		return fmt.Errorf("%w: index metric is %s, config asks for %s", ErrInvalidConfig, metric, cfg.MetricType)
	}

	h.Lock()
	defer h.Unlock()
	if err := h.ChoiceDistPolicy(metric); err != nil {
		return err
	}
	h.dim = dim
	h.M = M
	h.M0 = M0
	h.efConstruction = efConstruction
	h.DelaunayType = delaunay
	h.LevelMult = levelMult
	h.maxLayer = maxLayer
	h.enterpoint = uint32(enterpoint)
	atomic.StoreUint32(&h.nextID, uint32(nextID))
	h.nodes = nodes
	h.bitset = bitsetpool.New()
	h.rng = rand.New(rand.NewSource(cfg.seed()))
	return nil
}

func checkGraph(nodes []node, dim, enterpoint, maxLayer int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrCorruptIndex)
	}
	if maxLayer < 0 {
		return fmt.Errorf("%w: max layer %d", ErrCorruptIndex, maxLayer)
	}
	if enterpoint < 0 || enterpoint >= len(nodes) {
		return fmt.Errorf("%w: enterpoint %d out of range", ErrCorruptIndex, enterpoint)
	}
	if nodes[enterpoint].level != maxLayer {
		return fmt.Errorf("%w: enterpoint level %d, max layer %d", ErrCorruptIndex, nodes[enterpoint].level, maxLayer)
	}
	for i := range nodes {
		if l := nodes[i].level; l < 0 || l > maxLayer {
			return fmt.Errorf("%w: node %d level %d outside [0, %d]", ErrCorruptIndex, i, l, maxLayer)
		}
		if len(nodes[i].friends) > nodes[i].level+1 {
			return fmt.Errorf("%w: node %d has %d friend layers at level %d", ErrCorruptIndex, i, len(nodes[i].friends), nodes[i].level)
		}
		if len(nodes[i].p) != dim {
			return fmt.Errorf("%w: node %d has %d words, want %d", ErrCorruptIndex, i, len(nodes[i].p), dim)
		}
		for _, f := range nodes[i].friends {
			for _, id := range f {
				if int(id) >= len(nodes) {
					return fmt.Errorf("%w: node %d links to missing node %d", ErrCorruptIndex, i, id)
				}
			}
		}
	}
	return nil
}

// Save writes a file header naming the compression, then the compressed
// write timestamp and graph.
func (h *Hnsw) Save(w io.Writer, c codec.Compression) error {
	if _, err := w.Write(append([]byte(fileMagic), byte(c))); err != nil {
		return err
	}
	z, err := codec.NewWriter(w, c)
	if err != nil {
		return err
	}
	if err := binary.Write(z, binary.LittleEndian, time.Now().Unix()); err != nil {
		return err
	}
	if err := h.Serialize(z); err != nil {
		return err
	}
	return z.Close()
}

// Load reads an index previously written by Save. Returns the index and the
// timestamp it was written at.
func Load(r io.Reader, cfg Config) (*Hnsw, int64, error) {
	header := make([]byte, len(fileMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	if string(header[:len(fileMagic)]) != fileMagic {
		return nil, 0, fmt.Errorf("%w: bad file magic %q", ErrCorruptIndex, header[:len(fileMagic)])
	}
	z, err := codec.NewReader(r, codec.Compression(header[len(fileMagic)]))
	if err != nil {
		return nil, 0, err
	}
	defer z.Close()

	var timestamp int64
	if err := binary.Read(z, binary.LittleEndian, &timestamp); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	h := NewIndex()
	if err := h.Deserialize(z, cfg); err != nil {
		return nil, 0, err
	}
	return h, timestamp, nil
}

// SaveFile writes the index next to filename and renames it into place.
func (h *Hnsw) SaveFile(filename string, c codec.Compression) (err error) {
	f, err := os.CreateTemp(filepath.Dir(filename), ".hnsw-*")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = h.Save(f, c); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filename)
}

// LoadFile opens an index file previously written by SaveFile.
func LoadFile(filename string, cfg Config) (*Hnsw, int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return Load(f, cfg)
}
