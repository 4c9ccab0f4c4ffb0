package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/resilience"
)

// fakeOllama serves /api/tags and /api/embed with 3-dimensional vectors.
func fakeOllama(t *testing.T, embedStatus *atomic.Int32, embedCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		embedCalls.Add(1)
		if s := embedStatus.Load(); s != 0 && s != http.StatusOK {
			w.WriteHeader(int(s))
			_, _ = w.Write([]byte("unavailable"))
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{3, 4, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	cfg.BreakerEnabled = false
	return resilience.NewExecutor(cfg)
}

func TestOllamaEmbedder_DetectsDimensionsAndNormalizes(t *testing.T) {
	// Given: an Ollama server with the model installed
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)

	// When: creating the embedder and embedding a batch
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, BatchSize: 2}, testExecutor())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	// Then: dimensions come from the detection call and vectors are unit length
	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimensions())
	require.Len(t, vecs, 3)
	assert.InDelta(t, 0.6, vecs[2][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[2][1], 1e-6)
	// detection + two batches
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "bge-m3"}, nil)
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeEmbeddingUnavailable, amanerrors.GetCode(err))
}

func TestOllamaEmbedder_ServerErrorIsRetried(t *testing.T) {
	// Given: an embedder whose server starts returning 503
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)
	e, err := NewOllamaEmbedder(context.Background(),
		OllamaConfig{Host: srv.URL, Dimensions: 3, SkipHealthCheck: true}, testExecutor())
	require.NoError(t, err)
	status.Store(http.StatusServiceUnavailable)

	// When: embedding
	_, err = e.Embed(context.Background(), "q")

	// Then: the call is retried and fails as a retryable remote error
	require.Error(t, err)
	assert.True(t, amanerrors.IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)
	e, err := NewOllamaEmbedder(context.Background(),
		OllamaConfig{Host: srv.URL, Dimensions: 3, SkipHealthCheck: true}, testExecutor())
	require.NoError(t, err)
	status.Store(http.StatusBadRequest)

	_, err = e.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeRemoteRejected, amanerrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: "http://127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeEmbeddingUnavailable, amanerrors.GetCode(err))
}

func TestNew_Providers(t *testing.T) {
	e, err := New(context.Background(), Options{Provider: ProviderStatic, StaticDim: 8}, nil)
	require.NoError(t, err)
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)
	assert.Equal(t, 8, e.Dimensions())

	e, err = New(context.Background(), Options{Provider: ProviderStatic, CacheSize: -1}, nil)
	require.NoError(t, err)
	_, static := e.(*StaticEmbedder)
	assert.True(t, static)

	_, err = New(context.Background(), Options{Provider: "mlx"}, nil)
	assert.Error(t, err)
}
