package semanticcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"net/http"

	"github.com/relaycore/relaycore/internal/providers"
)

const embeddingDims = 384

// Embedder turns request text into a fixed-dimension vector for similarity
// lookup. ExternalEmbedder calls out to a real embedding endpoint;
// LocalEmbedder is a deterministic fallback usable with no network access.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ExternalEmbedder calls a configured embedding HTTP endpoint via the shared
// provider transport.
type ExternalEmbedder struct {
	Client  *http.Client
	URL     string
	Headers map[string]string
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed posts {input: text} and expects {embedding: [...]}.
func (e *ExternalEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := providers.DoRequest(ctx, client, e.URL, embedRequest{Input: text}, e.Headers)
	if err != nil {
		return nil, err
	}
	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// LocalEmbedder deterministically derives a 384-dim vector from the SHA-256
// of the input text, normalized to [-1, 1]. It never calls out over the
// network, trading embedding quality for availability: texts that are
// byte-identical embed identically, but semantically similar texts with
// different bytes will not be found as near neighbors.
type LocalEmbedder struct{}

// Embed chains SHA-256(text || counter) to produce enough pseudo-random
// bytes to fill embeddingDims components, each mapped from a big-endian
// uint32 into [-1, 1].
func (LocalEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	out := make([]float64, embeddingDims)
	var counter uint32
	var block [32]byte
	pos := len(block) // force the first iteration to hash

	for i := 0; i < embeddingDims; i++ {
		if pos+4 > len(block) {
			var counterBytes [4]byte
			binary.BigEndian.PutUint32(counterBytes[:], counter)
			counter++
			block = sha256.Sum256(append([]byte(text), counterBytes[:]...))
			pos = 0
		}
		v := binary.BigEndian.Uint32(block[pos : pos+4])
		pos += 4
		out[i] = float64(v)/float64(^uint32(0))*2 - 1
	}
	return out, nil
}
