package vector

import "testing"

func TestCompressedStoreFirstVectorIsAnchor(t *testing.T) {
	store := NewCompressedStore(CompressionConfigDelta(), 4)
	store.Insert(1, []float32{1, 2, 3, 4}, 0, false)
	if !store.IsAnchor(1) {
		t.Fatalf("first vector should be stored as an anchor")
	}
}

func TestCompressedStoreDeltaAgainstNeighbor(t *testing.T) {
	store := NewCompressedStore(CompressionConfigDelta(), 4)
	base := []float32{1, 2, 3, 4}
	store.Insert(1, base, 0, false)

	near := []float32{1, 2, 3, 4.0005}
	store.Insert(2, near, 1, true)

	full, ok := store.GetFull(2)
	if !ok {
		t.Fatalf("GetFull(2) missing")
	}
	for i := range base {
		if !approxEqual(float64(full[i]), float64(near[i]), 1e-3) {
			t.Fatalf("decompressed[%d] = %v, want ~%v", i, full[i], near[i])
		}
	}
}

func TestCompressedStoreAnchorFrequencyForcesAnchors(t *testing.T) {
	cfg := CompressionConfigDelta()
	cfg.AnchorFrequency = 2
	store := NewCompressedStore(cfg, 4)
	store.Insert(1, []float32{1, 2, 3, 4}, 0, false)
	store.Insert(2, []float32{1, 2, 3, 4.0005}, 1, true)
	// totalCount=2 at this insert (index 2, 0-based count before insert),
	// 2 % 2 == 0 forces an anchor.
	store.Insert(3, []float32{1, 2, 3, 4.0005}, 2, true)
	if !store.IsAnchor(3) {
		t.Fatalf("expected vector 3 to be forced to an anchor by anchor_frequency")
	}
}

func TestCompressedStoreRemoveRefusesLiveAnchor(t *testing.T) {
	store := NewCompressedStore(CompressionConfigDelta(), 4)
	store.Insert(1, []float32{1, 2, 3, 4}, 0, false)
	store.Insert(2, []float32{1, 2, 3, 4.0005}, 1, true)
	if store.Remove(1) {
		t.Fatalf("Remove should refuse an anchor with live dependents")
	}
	if !store.Remove(2) {
		t.Fatalf("Remove of the dependent itself should succeed")
	}
	if !store.Remove(1) {
		t.Fatalf("Remove of the now-dependent-free anchor should succeed")
	}
}

func TestCompressedVectorStorageBytes(t *testing.T) {
	full := &CompressedVector{full: []float32{1, 2, 3, 4}}
	if got, want := full.StorageBytes(), 4*4+8; got != want {
		t.Fatalf("Full StorageBytes = %d, want %d", got, want)
	}
	delta := &CompressedVector{deltas: []delta{{0, 1}, {1, 2}}}
	if got, want := delta.StorageBytes(), 2*6+16; got != want {
		t.Fatalf("Delta StorageBytes = %d, want %d", got, want)
	}
	qd := &CompressedVector{q: []qdelta{{0, 1}}, quant: true}
	if got, want := qd.StorageBytes(), 1*3+20; got != want {
		t.Fatalf("QuantizedDelta StorageBytes = %d, want %d", got, want)
	}
}

func TestDeltaCompressorFallsBackWhenTooDense(t *testing.T) {
	cfg := CompressionConfigDelta()
	cfg.MaxDensity = 0.01
	c := NewDeltaCompressor(cfg)
	base := make([]float32, 10)
	vec := make([]float32, 10)
	for i := range vec {
		vec[i] = float32(i) + 1
	}
	if got := c.Compress(vec, base); got != nil {
		t.Fatalf("expected nil (fallback to anchor) when density exceeds max_density")
	}
}

func TestDeltaCompressorNoneModeAlwaysNil(t *testing.T) {
	c := NewDeltaCompressor(CompressionConfigNone())
	if got := c.Compress([]float32{1, 2}, []float32{0, 0}); got != nil {
		t.Fatalf("CompressionNone must always fall back to anchor")
	}
}

func TestCompressedStoreStats(t *testing.T) {
	store := NewCompressedStore(CompressionConfigDelta(), 4)
	store.Insert(1, []float32{1, 2, 3, 4}, 0, false)
	store.Insert(2, []float32{1, 2, 3, 4.0005}, 1, true)
	stats := store.Stats()
	if stats.TotalVectors != 2 {
		t.Fatalf("TotalVectors = %d, want 2", stats.TotalVectors)
	}
	if stats.AnchorCount < 1 {
		t.Fatalf("AnchorCount = %d, want at least 1", stats.AnchorCount)
	}
}
