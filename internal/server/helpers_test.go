package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/geometry"
	"github.com/stretchr/testify/require"
)

// newTestServer builds a server with single-class evaluation defaults.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	eval := evaluation.DefaultConfig()
	eval.NumClasses = 1
	eval.Workers = 1
	s, err := NewServer(Config{CORSOrigin: "*", Evaluation: eval})
	require.NoError(t, err)
	return s
}

// postJSON sends body as JSON to handler and returns the recorded response.
func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func evaluationWithFormat(format string) evaluation.Config {
	cfg := evaluation.DefaultConfig()
	cfg.Format = geometry.Format(format)
	return cfg
}
