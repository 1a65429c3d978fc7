package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File layout (v1):
//   0..7   magic "DQAVEC01"
//   8..15  dim (uint64, little-endian)
//   16..23 count (uint64, little-endian)
//   24..   count*dim little-endian float32 values
const headerSize = 24

var fileMagic = [8]byte{'D', 'Q', 'A', 'V', 'E', 'C', '0', '1'}

// FlatIndex is an exhaustive squared-L2 index held fully in memory.
// Reads (Search, Size) may run concurrently; Append and Persist are
// serialized by the write lock.
type FlatIndex struct {
	mu   sync.RWMutex
	path string
	dim  int
	data []float32 // count*dim values, row-major
}

// Open loads the index artifact at path, or creates an empty index if the
// file does not exist. The whole artifact is read into memory.
func Open(path string, dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dim)
	}

	idx := &FlatIndex{path: path, dim: dim}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	if err := idx.decode(raw); err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", path, err)
	}
	return idx, nil
}

func (idx *FlatIndex) decode(raw []byte) error {
	if len(raw) < headerSize {
		return fmt.Errorf("file too small for header: %d < %d bytes", len(raw), headerSize)
	}

	var magic [8]byte
	copy(magic[:], raw[:8])
	if magic != fileMagic {
		return fmt.Errorf("magic mismatch: not an index file")
	}

	dim := binary.LittleEndian.Uint64(raw[8:16])
	count := binary.LittleEndian.Uint64(raw[16:24])
	if int(dim) != idx.dim {
		return fmt.Errorf("dimension mismatch: file dim=%d, configured dim=%d", dim, idx.dim)
	}

	want := headerSize + int(count)*idx.dim*4
	if len(raw) != want {
		return fmt.Errorf("truncated index file: %d bytes, want %d for %d vectors", len(raw), want, count)
	}

	data := make([]float32, int(count)*idx.dim)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[headerSize+i*4:])
		data[i] = math.Float32frombits(bits)
	}
	idx.data = data
	return nil
}

// Append adds vectors to the index in order. All vectors must match the
// configured dimension; on a mismatch nothing is appended.
func (idx *FlatIndex) Append(vectors [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, vec := range vectors {
		if len(vec) != idx.dim {
			return fmt.Errorf("vector %d dimension mismatch: expected %d, got %d", i, idx.dim, len(vec))
		}
	}
	for _, vec := range vectors {
		idx.data = append(idx.data, vec...)
	}
	return nil
}

// Search performs an exhaustive scan and returns the min(k, Size()) nearest
// vectors by squared L2 distance, ascending. Ties are broken by ascending id
// so results are deterministic.
func (idx *FlatIndex) Search(query []float32, k int) ([]int64, []float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dim {
		return nil, nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", idx.dim, len(query))
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive, got %d", k)
	}

	count := len(idx.data) / idx.dim
	if k > count {
		k = count
	}
	if k == 0 {
		return []int64{}, []float32{}, nil
	}

	dists := make([]float32, count)
	for i := 0; i < count; i++ {
		row := idx.data[i*idx.dim : (i+1)*idx.dim]
		var sum float32
		for j, q := range query {
			d := row[j] - q
			sum += d * d
		}
		dists[i] = sum
	}

	order := make([]int, count)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if dists[order[a]] != dists[order[b]] {
			return dists[order[a]] < dists[order[b]]
		}
		return order[a] < order[b]
	})

	ids := make([]int64, k)
	top := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = int64(order[i])
		top[i] = dists[order[i]]
	}
	return ids, top, nil
}

// Size returns the number of stored vectors.
func (idx *FlatIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.data) / idx.dim
}

// Persist writes the index to disk. The artifact is written to a temporary
// file and renamed into place so a crash mid-write cannot corrupt the
// previous state.
func (idx *FlatIndex) Persist() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count := len(idx.data) / idx.dim
	buf := make([]byte, headerSize+len(idx.data)*4)
	copy(buf[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(idx.dim))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(count))
	for i, v := range idx.data {
		binary.LittleEndian.PutUint32(buf[headerSize+i*4:], math.Float32bits(v))
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".index-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpName, idx.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}
