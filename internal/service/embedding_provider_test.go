package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbeddingClient implements EmbeddingClient with a canned response.
type stubEmbeddingClient struct {
	vector []float32
	err    error
	calls  int
}

func (s *stubEmbeddingClient) CreateEmbedding(_ context.Context, _ string) ([]float32, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return s.vector, nil
}

func TestFailOpenEmbeddingProvider_success(t *testing.T) {
	client := &stubEmbeddingClient{vector: []float32{0.1, 0.2, 0.3}}
	provider := NewFailOpenEmbeddingProvider(FailOpenEmbeddingProviderParams{
		Client: client,
		Model:  "test-model",
	})

	emb := provider.Generate(context.Background(), "fix pool leak", EmbeddingInputQuery)

	require.NotNil(t, emb)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb.Vector)
	assert.Equal(t, "test-model", emb.Model)
	assert.Equal(t, 3, emb.Dimensions)
}

func TestFailOpenEmbeddingProvider_emptyInputSkipsProvider(t *testing.T) {
	client := &stubEmbeddingClient{vector: []float32{0.1}}
	provider := NewFailOpenEmbeddingProvider(FailOpenEmbeddingProviderParams{Client: client, Model: "m"})

	assert.Nil(t, provider.Generate(context.Background(), "   \n ", EmbeddingInputDocument))
	assert.Zero(t, client.calls)
}

func TestFailOpenEmbeddingProvider_providerErrorFailsOpen(t *testing.T) {
	client := &stubEmbeddingClient{err: errors.New("rate limited upstream")}
	provider := NewFailOpenEmbeddingProvider(FailOpenEmbeddingProviderParams{Client: client, Model: "m"})

	assert.Nil(t, provider.Generate(context.Background(), "some text", EmbeddingInputQuery))
	assert.Equal(t, 1, client.calls)
}

func TestFailOpenEmbeddingProvider_cancelledContextAbortsLimiterWait(t *testing.T) {
	client := &stubEmbeddingClient{vector: []float32{0.1}}
	provider := NewFailOpenEmbeddingProvider(FailOpenEmbeddingProviderParams{
		Client:            client,
		Model:             "m",
		RequestsPerSecond: 0.001, // effectively blocks after the first token
		Burst:             1,
	})

	// Drain the single burst token.
	require.NotNil(t, provider.Generate(context.Background(), "first", EmbeddingInputQuery))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, provider.Generate(ctx, "second", EmbeddingInputQuery))
	assert.Equal(t, 1, client.calls)
}
