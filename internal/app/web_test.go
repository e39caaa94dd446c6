package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kick_trigger/internal/kick"
)

type published struct {
	topic   string
	payload []byte
}

// newTestWebServer wires a webServer to a channel-backed publish hook.
func newTestWebServer() (*webServer, chan published) {
	ch := make(chan published, 4)
	srv := newWebServer(
		kick.Thresholds{Upper: 1.5, Lower: 0.1},
		"kick/thresholds",
		func(topic string, payload []byte) error {
			ch <- published{topic, payload}
			return nil
		},
	)
	return srv, ch
}

func waitPublished(t *testing.T, ch chan published) published {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no publish happened")
		return published{}
	}
}

func TestThresholdsPostPublishes(t *testing.T) {
	srv, ch := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	body := bytes.NewBufferString(`{"upper":2.5,"lower":0.2}`)
	resp, err := http.Post(ts.URL+"/api/thresholds", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	p := waitPublished(t, ch)
	assert.Equal(t, "kick/thresholds", p.topic)

	var th kick.Thresholds
	require.NoError(t, json.Unmarshal(p.payload, &th))
	assert.Equal(t, 2.5, th.Upper)
	assert.Equal(t, 0.2, th.Lower)
}

func TestThresholdsPostRejectsNonPositive(t *testing.T) {
	srv, ch := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	for _, body := range []string{
		`{"upper":0,"lower":0.1}`,
		`{"upper":1.5,"lower":-1}`,
		`not json`,
	} {
		resp, err := http.Post(ts.URL+"/api/thresholds", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Empty(t, ch)
}

func TestThresholdsGetReflectsTopic(t *testing.T) {
	srv, _ := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	srv.onThresholds(kick.Thresholds{Upper: 3, Lower: 0.5})

	resp, err := http.Get(ts.URL + "/api/thresholds")
	require.NoError(t, err)
	defer resp.Body.Close()

	var th kick.Thresholds
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&th))
	assert.Equal(t, 3.0, th.Upper)
	assert.Equal(t, 0.5, th.Lower)
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	// No session state yet.
	resp, err := http.Get(ts.URL + "/api/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	srv.onSession(SessionMessage{State: "streaming", Frames: 42, Kicks: 2})

	resp, err = http.Get(ts.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg SessionMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "streaming", msg.State)
	assert.Equal(t, uint64(42), msg.Frames)
	assert.Equal(t, uint64(2), msg.Kicks)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestWebSocketThresholdUpdate(t *testing.T) {
	srv, ch := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSEvent{
		Type:    "thresholds",
		Payload: kick.Thresholds{Upper: 2.0, Lower: 0.3},
	}))

	p := waitPublished(t, ch)
	assert.Equal(t, "kick/thresholds", p.topic)

	var th kick.Thresholds
	require.NoError(t, json.Unmarshal(p.payload, &th))
	assert.Equal(t, 2.0, th.Upper)
	assert.Equal(t, 0.3, th.Lower)
}

func TestWebSocketRejectsBadThresholds(t *testing.T) {
	srv, ch := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSEvent{
		Type:    "thresholds",
		Payload: kick.Thresholds{Upper: -1, Lower: 0.3},
	}))
	// Valid update after the bad one proves the loop survived it.
	require.NoError(t, conn.WriteJSON(WSEvent{
		Type:    "thresholds",
		Payload: kick.Thresholds{Upper: 1.8, Lower: 0.2},
	}))

	p := waitPublished(t, ch)
	var th kick.Thresholds
	require.NoError(t, json.Unmarshal(p.payload, &th))
	assert.Equal(t, 1.8, th.Upper)
	assert.Empty(t, ch)
}

func TestWebSocketBroadcast(t *testing.T) {
	srv, _ := newTestWebServer()
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	conn := dialWS(t, ts)
	defer conn.Close()

	// The handler registers the client after the upgrade handshake; wait
	// for the hub to see it before broadcasting.
	require.Eventually(t, func() bool {
		srv.hub.mu.Lock()
		defer srv.hub.mu.Unlock()
		return len(srv.hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	srv.onKick(KickMessage{Intensity: 1.25, Time: "2026-08-26T00:00:00Z"})

	var ev struct {
		Type    string      `json:"type"`
		Payload KickMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "kick", ev.Type)
	assert.Equal(t, 1.25, ev.Payload.Intensity)
}
