package cmd

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/bootstrap"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func TestServeMetrics_ServesAndStops(t *testing.T) {
	// Given: a metrics registry with one observed call
	m := telemetry.NewMetrics()
	m.ObserveRetrieve("ok", 10*time.Millisecond)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, ln, m.Handler()) }()

	// When: scraping /metrics
	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)

	// Then: the counter is exported and cancel stops the server cleanly
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "amanrag_retrieve_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func offlineApp(t *testing.T) *bootstrap.App {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := config.NewConfig()
	cfg.Index.DataDir = ""
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 64
	cfg.Rerank.Scorer = "lexical"
	cfg.Generation.Enabled = false

	app, err := bootstrap.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestReloadFunc(t *testing.T) {
	// Given: a running app and a reload callback
	app := offlineApp(t)
	reload := reloadFunc(app)

	// When: a valid retrieval section arrives
	cfg := config.NewConfig()
	cfg.Retrieval.TopK = 2
	cfg.Retrieval.Profile = "fast"
	reload(cfg)

	// Then: the engine defaults follow it
	d := app.Engine.Defaults()
	assert.Equal(t, 2, d.TopK)
	assert.Equal(t, []search.Path{search.PathSummary, search.PathKeywords}, d.Paths)

	// When: an invalid section arrives
	bad := config.NewConfig()
	bad.Retrieval.TopK = 7
	bad.Retrieval.Paths = []string{"title"}
	reload(bad)

	// Then: the previous defaults stay
	assert.Equal(t, 2, app.Engine.Defaults().TopK)
}

func TestApplyRetrieveFlags(t *testing.T) {
	defaults := search.DefaultRetrieveOptions()

	tests := []struct {
		name       string
		opts       retrieveOptions
		wantPaths  []search.Path
		wantExpand bool
		wantRerank bool
		wantErr    bool
	}{
		{
			name:       "no flags keeps defaults",
			wantPaths:  defaults.Paths,
			wantExpand: defaults.Expand,
			wantRerank: defaults.Rerank,
		},
		{
			name:       "profile",
			opts:       retrieveOptions{profile: "fast"},
			wantPaths:  []search.Path{search.PathSummary, search.PathKeywords},
			wantExpand: defaults.Expand,
			wantRerank: defaults.Rerank,
		},
		{
			name:       "paths win over profile",
			opts:       retrieveOptions{profile: "fast", paths: []string{"vector", "content"}},
			wantPaths:  []search.Path{search.PathVector, search.PathContent},
			wantExpand: defaults.Expand,
			wantRerank: defaults.Rerank,
		},
		{
			name:      "switches off expand and rerank",
			opts:      retrieveOptions{noExpand: true, noRerank: true},
			wantPaths: defaults.Paths,
		},
		{
			name:    "unknown path",
			opts:    retrieveOptions{paths: []string{"title"}},
			wantErr: true,
		},
		{
			name:    "unknown profile",
			opts:    retrieveOptions{profile: "turbo"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyRetrieveFlags(defaults, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaths, got.Paths)
			assert.Equal(t, tt.wantExpand, got.Expand)
			assert.Equal(t, tt.wantRerank, got.Rerank)
			assert.Equal(t, defaults.TopK, got.TopK)
		})
	}
}

func TestScoreLine(t *testing.T) {
	r := search.RerankedResult{RepresentativeChildID: "c1", FusedScore: 0.0328, RerankScore: 0.5, FromCache: true}
	assert.Equal(t, "fused 0.0328 | rerank 0.5000 | via c1 | cached", scoreLine(r))

	r.RerankScore = math.Inf(-1)
	r.FromCache = false
	assert.Equal(t, "fused 0.0328 | rerank failed | via c1", scoreLine(r))
}
