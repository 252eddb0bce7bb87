package vector

import "math"

// CompressionMode selects how a vector store represents non-anchor
// vectors.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionDelta
	CompressionQuantizedDelta
)

// CompressionConfig tunes the sparse-delta compressor.
type CompressionConfig struct {
	Mode             CompressionMode
	SparsityThreshold float64
	MaxDensity        float64
	AnchorFrequency   int
	QuantizationBits  int
}

// CompressionConfigNone disables compression: every vector is stored Full.
func CompressionConfigNone() CompressionConfig {
	return CompressionConfig{Mode: CompressionNone, SparsityThreshold: 0.001, MaxDensity: 0.15, AnchorFrequency: 8, QuantizationBits: 8}
}

// CompressionConfigDelta is the default delta-compression preset.
func CompressionConfigDelta() CompressionConfig {
	return CompressionConfig{Mode: CompressionDelta, SparsityThreshold: 0.001, MaxDensity: 0.15, AnchorFrequency: 8, QuantizationBits: 8}
}

// CompressionConfigQuantized is the higher-compression quantized preset.
func CompressionConfigQuantized() CompressionConfig {
	return CompressionConfig{Mode: CompressionQuantizedDelta, SparsityThreshold: 0.01, MaxDensity: 0.10, AnchorFrequency: 16, QuantizationBits: 8}
}

// delta is one non-zero sparse component: (index, value).
type delta struct {
	Index uint16
	Value float32
}

// qdelta is one non-zero quantized sparse component: (index, signed byte).
type qdelta struct {
	Index uint16
	Value int8
}

// CompressedVector is a tagged union: either the complete float sequence
// (an anchor) or a sparse delta against another vector's id, optionally
// quantized to 8-bit deltas with a shared scale.
type CompressedVector struct {
	full   []float32 // non-nil iff this is a Full/anchor vector
	baseID uint64
	deltas []delta
	q      []qdelta
	scale  float32
	norm   float64
	quant  bool // true iff this is QuantizedDelta rather than Delta
}

// IsAnchor reports whether v stores a complete vector.
func (v *CompressedVector) IsAnchor() bool { return v.full != nil }

// BaseID returns the anchor/base id a delta vector resolves against, and
// whether v is in fact a delta (false for an anchor).
func (v *CompressedVector) BaseID() (uint64, bool) {
	if v.full != nil {
		return 0, false
	}
	return v.baseID, true
}

// Norm returns the vector's cached L2 norm.
func (v *CompressedVector) Norm() float64 {
	if v.full != nil {
		return Norm(v.full)
	}
	return v.norm
}

// StorageBytes estimates the bytes this representation occupies: Full is
// len*4+8, Delta is len(deltas)*6+16, QuantizedDelta is len(deltas)*3+20.
func (v *CompressedVector) StorageBytes() int {
	switch {
	case v.full != nil:
		return len(v.full)*4 + 8
	case v.quant:
		return len(v.q)*3 + 20
	default:
		return len(v.deltas)*6 + 16
	}
}

// DeltaCompressor turns full vectors into CompressedVector values relative
// to a base, per CompressionConfig.
type DeltaCompressor struct {
	cfg CompressionConfig
}

// NewDeltaCompressor builds a compressor for cfg.
func NewDeltaCompressor(cfg CompressionConfig) *DeltaCompressor {
	return &DeltaCompressor{cfg: cfg}
}

// Compress attempts to represent vector as a sparse delta against base. It
// returns nil if compression is disabled, the dimensions mismatch, or the
// resulting delta would be too dense. In every such case the caller
// should fall back to storing vector as a Full anchor.
func (c *DeltaCompressor) Compress(vector, base []float32) *CompressedVector {
	if c.cfg.Mode == CompressionNone {
		return nil
	}
	if len(vector) != len(base) {
		return nil
	}
	var deltas []delta
	for i := range vector {
		d := float64(vector[i]) - float64(base[i])
		if d < 0 {
			d = -d
		}
		if d > c.cfg.SparsityThreshold {
			deltas = append(deltas, delta{Index: uint16(i), Value: vector[i] - base[i]})
		}
	}
	density := float64(len(deltas)) / float64(len(vector))
	if density > c.cfg.MaxDensity {
		return nil
	}

	norm := Norm(vector)
	if c.cfg.Mode == CompressionQuantizedDelta {
		var maxAbs float32
		for _, d := range deltas {
			a := d.Value
			if a < 0 {
				a = -a
			}
			if a > maxAbs {
				maxAbs = a
			}
		}
		scale := maxAbs / 127
		if scale == 0 {
			scale = 1
		}
		var q []qdelta
		for _, d := range deltas {
			v := int32(math.Round(float64(d.Value / scale)))
			if v > 127 {
				v = 127
			} else if v < -127 {
				v = -127
			}
			if v == 0 {
				continue
			}
			q = append(q, qdelta{Index: d.Index, Value: int8(v)})
		}
		return &CompressedVector{deltas: nil, q: q, scale: scale, norm: norm, quant: true}
	}

	return &CompressedVector{deltas: deltas, norm: norm, quant: false}
}

// applyDelta adds the compressed deltas into base (a full vector of the
// correct dimension) in place, scaled by the quantization factor for
// QuantizedDelta vectors.
func applyDelta(base []float32, v *CompressedVector) []float32 {
	out := make([]float32, len(base))
	copy(out, base)
	if v.quant {
		for _, d := range v.q {
			if int(d.Index) < len(out) {
				out[d.Index] += float32(d.Value) * v.scale
			}
		}
		return out
	}
	for _, d := range v.deltas {
		if int(d.Index) < len(out) {
			out[d.Index] += d.Value
		}
	}
	return out
}

// ApproximateDistance estimates distance from a query's norm alone,
// without decompressing. Reserved surface: nothing in HNSW search calls
// this yet.
func (v *CompressedVector) ApproximateDistance(queryNorm float64) float64 {
	if queryNorm == 0 {
		return 2
	}
	d := math.Abs(1 - v.Norm()/queryNorm)
	if d > 2 {
		d = 2
	}
	return d
}

// CompressedStore holds every vector in a collection as either a Full
// anchor or a delta against one, picking anchors periodically and
// whenever compression would be too dense to pay off.
type CompressedStore struct {
	cfg        CompressionConfig
	compressor *DeltaCompressor
	vectors    map[uint64]*CompressedVector
	anchors    map[uint64]bool
	totalCount int
	dimensions int
}

// NewCompressedStore builds an empty store for vectors of the given
// dimensionality.
func NewCompressedStore(cfg CompressionConfig, dimensions int) *CompressedStore {
	return &CompressedStore{
		cfg:        cfg,
		compressor: NewDeltaCompressor(cfg),
		vectors:    make(map[uint64]*CompressedVector),
		anchors:    make(map[uint64]bool),
		dimensions: dimensions,
	}
}

// Insert stores vector under id, optionally compressed relative to
// neighborID. Insert always succeeds by falling back to a Full anchor;
// the bool return is reserved for a future rejecting case.
func (s *CompressedStore) Insert(id uint64, vec []float32, neighborID uint64, hasNeighbor bool) bool {
	shouldAnchor := s.cfg.Mode == CompressionNone || len(s.anchors) == 0 ||
		(s.cfg.AnchorFrequency > 0 && s.totalCount%s.cfg.AnchorFrequency == 0)

	if !shouldAnchor && hasNeighbor {
		if base, ok := s.GetFull(neighborID); ok {
			if cv := s.compressor.Compress(vec, base); cv != nil {
				cv.baseID = neighborID
				s.vectors[id] = cv
				s.totalCount++
				return true
			}
		}
	}

	full := make([]float32, len(vec))
	copy(full, vec)
	s.vectors[id] = &CompressedVector{full: full}
	s.anchors[id] = true
	s.totalCount++
	return true
}

// GetFull decompresses id to its full vector, recursing through base ids
// as needed. Returns false if id is unknown.
func (s *CompressedStore) GetFull(id uint64) ([]float32, bool) {
	return s.getFullDepth(id, 0)
}

func (s *CompressedStore) getFullDepth(id uint64, depth int) ([]float32, bool) {
	if depth > s.cfg.AnchorFrequency+2 {
		return nil, false
	}
	v, ok := s.vectors[id]
	if !ok {
		return nil, false
	}
	if v.full != nil {
		out := make([]float32, len(v.full))
		copy(out, v.full)
		return out, true
	}
	base, ok := s.getFullDepth(v.baseID, depth+1)
	if !ok {
		return nil, false
	}
	return applyDelta(base, v), true
}

// IsAnchor reports whether id is currently stored as an anchor.
func (s *CompressedStore) IsAnchor(id uint64) bool { return s.anchors[id] }

// Remove deletes id, refusing (returning false) if it is an anchor with
// live dependents.
func (s *CompressedStore) Remove(id uint64) bool {
	if s.anchors[id] {
		for other, v := range s.vectors {
			if other == id {
				continue
			}
			if base, ok := v.BaseID(); ok && base == id {
				return false
			}
		}
	}
	delete(s.vectors, id)
	delete(s.anchors, id)
	return true
}

// Len returns the number of vectors currently stored.
func (s *CompressedStore) Len() int { return len(s.vectors) }

// IsEmpty reports whether the store holds no vectors.
func (s *CompressedStore) IsEmpty() bool { return len(s.vectors) == 0 }

// Stats summarizes compression effectiveness.
type Stats struct {
	TotalVectors     int
	AnchorCount      int
	DeltaCount       int
	CompressedBytes  int
	UncompressedBytes int
	CompressionRatio float64
	AvgDeltaSize     float64
}

// Stats computes current compression statistics over the store.
func (s *CompressedStore) Stats() Stats {
	st := Stats{TotalVectors: len(s.vectors)}
	var deltaBytesSum int
	for id, v := range s.vectors {
		st.CompressedBytes += v.StorageBytes()
		st.UncompressedBytes += s.dimensions*4 + 8
		if s.anchors[id] {
			st.AnchorCount++
		} else {
			st.DeltaCount++
			deltaBytesSum += v.StorageBytes()
		}
	}
	if st.UncompressedBytes > 0 {
		st.CompressionRatio = 1 - float64(st.CompressedBytes)/float64(st.UncompressedBytes)
	}
	if st.DeltaCount > 0 {
		st.AvgDeltaSize = float64(deltaBytesSum) / float64(st.DeltaCount)
	}
	return st
}
