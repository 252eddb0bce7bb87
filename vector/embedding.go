package vector

import (
	"hash/fnv"
	"strings"
)

// EmbeddingProvider turns text into a fixed-dimensional vector. The core
// depends only on this capability set; concrete providers (hash-TF-IDF
// here, hosted-API or ONNX elsewhere) are collaborators outside the core.
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// baseProvider supplies the default per-item EmbedBatch so concrete
// providers only need to implement Embed.
type baseProvider struct {
	embed func(string) ([]float32, error)
}

func (b baseProvider) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := b.embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// MockEmbeddingProvider produces a deterministic pseudo-random unit vector
// from a hash of the input text, useful for tests and demos that need
// stable, reproducible embeddings without a real model.
type MockEmbeddingProvider struct {
	dimensions int
}

// NewMockEmbeddingProvider returns a provider emitting vectors of the
// given dimensionality.
func NewMockEmbeddingProvider(dimensions int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{dimensions: dimensions}
}

func (m *MockEmbeddingProvider) Dimensions() int    { return m.dimensions }
func (m *MockEmbeddingProvider) ModelName() string  { return "mock" }

func (m *MockEmbeddingProvider) Embed(text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	v := make([]float32, m.dimensions)
	for i := range v {
		state = state*6364136223846793005 + 1
		// Map the top bits to [-1, 1].
		v[i] = float32(int64(state>>40)%1000)/500 - 1
	}
	Normalize(v)
	return v, nil
}

func (m *MockEmbeddingProvider) EmbedBatch(texts []string) ([][]float32, error) {
	return baseProvider{embed: m.Embed}.EmbedBatch(texts)
}

// TfIdfEmbeddingProvider produces a hash-bucket bag-of-words vector:
// every lowercased word increments the bucket its hash maps to, and the
// result is L2-normalized. This is a cheap, dependency-free stand-in for a
// real TF-IDF model.
type TfIdfEmbeddingProvider struct {
	dimensions int
}

// NewTfIdfEmbeddingProvider returns a provider emitting vectors of the
// given dimensionality.
func NewTfIdfEmbeddingProvider(dimensions int) *TfIdfEmbeddingProvider {
	return &TfIdfEmbeddingProvider{dimensions: dimensions}
}

func (t *TfIdfEmbeddingProvider) Dimensions() int   { return t.dimensions }
func (t *TfIdfEmbeddingProvider) ModelName() string { return "tfidf-hash" }

func (t *TfIdfEmbeddingProvider) Embed(text string) ([]float32, error) {
	v := make([]float32, t.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(word))
		bucket := h.Sum64() % uint64(t.dimensions)
		v[bucket]++
	}
	Normalize(v)
	return v, nil
}

func (t *TfIdfEmbeddingProvider) EmbedBatch(texts []string) ([][]float32, error) {
	return baseProvider{embed: t.Embed}.EmbedBatch(texts)
}

// IsNormalized reports whether v has unit L2 norm within tolerance 1e-5.
func IsNormalized(v []float32) bool {
	n := Norm(v)
	d := n - 1
	if d < 0 {
		d = -d
	}
	return d <= 1e-5
}
