package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWebSocketConn records written messages.
type mockWebSocketConn struct {
	sentMessages []sentMessage
}

type sentMessage struct {
	messageType int
	data        []byte
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.sentMessages = append(m.sentMessages, sentMessage{messageType: messageType, data: data})
	return nil
}

func (m *mockWebSocketConn) responses(t *testing.T) []WebSocketResponse {
	t.Helper()
	out := make([]WebSocketResponse, 0, len(m.sentMessages))
	for _, msg := range m.sentMessages {
		assert.Equal(t, websocket.TextMessage, msg.messageType)
		var resp WebSocketResponse
		require.NoError(t, json.Unmarshal(msg.data, &resp))
		out = append(out, resp)
	}
	return out
}

func TestServer_HandleWebSocketMessage(t *testing.T) {
	server := newTestServer(t)
	server.evaluation.NumClasses = 3

	t.Run("streams progress then result", func(t *testing.T) {
		conn := &mockWebSocketConn{}
		req := `{"predictions":[[0,0,0.9,0,0,10,10],[0,2,0.8,0,0,10,10]],` +
			`"ground_truths":[[0,0,0,0,10,10],[0,2,0,0,10,10]],"empty_class_policy":"skip"}`
		server.handleWebSocketMessage(context.Background(), conn, []byte(req))

		responses := conn.responses(t)
		require.Len(t, responses, 4)
		for i, resp := range responses[:3] {
			assert.Equal(t, wsTypeProgress, resp.Type)
			assert.Equal(t, i+1, resp.Current)
			assert.Equal(t, 3, resp.Total)
		}

		last := responses[3]
		assert.Equal(t, wsTypeCompleted, last.Type)
		assert.Equal(t, responses[0].RequestID, last.RequestID)
		require.NotNil(t, last.Result)
		assert.InDelta(t, 1.0, last.Result.MeanAP, 1e-5)
		assert.Equal(t, 2, last.Result.Result.Evaluated)
	})

	t.Run("invalid json", func(t *testing.T) {
		conn := &mockWebSocketConn{}
		server.handleWebSocketMessage(context.Background(), conn, []byte("{"))

		responses := conn.responses(t)
		require.Len(t, responses, 1)
		assert.Equal(t, wsTypeError, responses[0].Type)
		assert.Equal(t, "invalid_request", responses[0].ErrorType)
	})

	t.Run("invalid request", func(t *testing.T) {
		conn := &mockWebSocketConn{}
		server.handleWebSocketMessage(context.Background(), conn, []byte(`{"format":"polygon"}`))

		responses := conn.responses(t)
		require.Len(t, responses, 1)
		assert.Equal(t, "invalid_request", responses[0].ErrorType)
		assert.Contains(t, responses[0].Error, "polygon")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		conn := &mockWebSocketConn{}
		server.handleWebSocketMessage(ctx, conn, []byte(`{"ground_truths":[[0,0,0,0,1,1]]}`))

		responses := conn.responses(t)
		require.NotEmpty(t, responses)
		last := responses[len(responses)-1]
		assert.Equal(t, wsTypeError, last.Type)
		assert.Equal(t, "processing_error", last.ErrorType)
	})
}

func TestServer_EvaluateWebSocket_EndToEnd(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/evaluate/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	}()

	req := EvaluateRequest{
		Predictions:  json.RawMessage(`[[0,0,0.9,0,0,10,10]]`),
		GroundTruths: json.RawMessage(`[{"image_id":0,"class_id":0,"box":[0,0,10,10]}]`),
		COCO:         true,
	}
	require.NoError(t, conn.WriteJSON(req))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	progress := 0
	for {
		var msg WebSocketResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == wsTypeProgress {
			progress++
			continue
		}
		require.Equal(t, wsTypeCompleted, msg.Type, msg.Error)
		require.NotNil(t, msg.Result)
		require.NotNil(t, msg.Result.Sweep)
		assert.Len(t, msg.Result.Sweep.Thresholds, 10)
		assert.InDelta(t, 1.0, msg.Result.MeanAP, 1e-5)
		break
	}
	// One class per threshold
	assert.Equal(t, 10, progress)
}

// dialEvaluateSocket serves s on a test listener and opens /v1/evaluate/ws.
func dialEvaluateSocket(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/evaluate/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
		_ = conn.Close()
	})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// readUntilFinal skips progress messages and returns the completed or error message.
func readUntilFinal(t *testing.T, conn *websocket.Conn) WebSocketResponse {
	t.Helper()
	for {
		var msg WebSocketResponse
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != wsTypeProgress {
			return msg
		}
	}
}

func TestServer_EvaluateWebSocket_UploadLimit(t *testing.T) {
	eval := evaluation.DefaultConfig()
	eval.NumClasses = 1
	server, err := NewServer(Config{Evaluation: eval, MaxUploadMB: 1})
	require.NoError(t, err)
	conn := dialEvaluateSocket(t, server)

	// One byte over the 1 MB limit. The write may race the server closing the socket.
	oversized := `{"predictions":[],"pad":"` + strings.Repeat("x", 1<<20) + `"}`
	_ = conn.WriteMessage(websocket.TextMessage, []byte(oversized))

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "an oversized message must not be evaluated")
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}
}

func TestServer_EvaluateWebSocket_DataQuota(t *testing.T) {
	eval := evaluation.DefaultConfig()
	eval.NumClasses = 1
	server, err := NewServer(Config{
		Evaluation: eval,
		RateLimit:  RateLimitConfig{Enabled: true, RequestsPerMinute: 100, MaxDataPerDay: 200},
	})
	require.NoError(t, err)
	conn := dialEvaluateSocket(t, server)

	small := `{"predictions":[[0,0,0.9,0,0,10,10]],"ground_truths":[{"image_id":0,"class_id":0,"box":[0,0,10,10]}]}`
	large := `{"predictions":[[0,0,0.9,0,0,10,10]]` + strings.Repeat(" ", 300) + `}`

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(large)))
	msg := readUntilFinal(t, conn)
	assert.Equal(t, wsTypeError, msg.Type)
	assert.Equal(t, "quota_exceeded", msg.ErrorType)

	// Rejected bytes are not charged, so a small request still fits.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(small)))
	msg = readUntilFinal(t, conn)
	require.Equal(t, wsTypeCompleted, msg.Type, msg.Error)
	assert.InDelta(t, 1.0, msg.Result.MeanAP, 1e-5)
}

func TestServer_EvaluateWebSocket_RequestRate(t *testing.T) {
	eval := evaluation.DefaultConfig()
	eval.NumClasses = 1
	// The upgrade request uses one of the two.
	server, err := NewServer(Config{
		Evaluation: eval,
		RateLimit:  RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})
	require.NoError(t, err)
	conn := dialEvaluateSocket(t, server)

	req := `{"predictions":[[0,0,0.9,0,0,10,10]],"ground_truths":[{"image_id":0,"class_id":0,"box":[0,0,10,10]}]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	assert.Equal(t, wsTypeCompleted, readUntilFinal(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(req)))
	msg := readUntilFinal(t, conn)
	assert.Equal(t, wsTypeError, msg.Type)
	assert.Equal(t, "rate_limit_exceeded", msg.ErrorType)
}

func TestLockedWriter(t *testing.T) {
	mock := &mockWebSocketConn{}
	w := &lockedWriter{conn: mock}

	done := make(chan struct{})
	for range 4 {
		go func() {
			_ = w.WriteMessage(websocket.TextMessage, []byte(`{}`))
			done <- struct{}{}
		}()
	}
	for range 4 {
		<-done
	}
	assert.Len(t, mock.sentMessages, 4)
}
