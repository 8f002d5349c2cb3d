package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mapgen/internal/app"
	"github.com/ternarybob/mapgen/internal/common"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	cfg := common.NewDefaultConfig()
	cfg.Paths.DataDir = dir
	cfg.Paths.CacheDir = filepath.Join(dir, "cache")
	cfg.Paths.UploadDir = filepath.Join(dir, "uploads")
	cfg.Storage.SQLite.Path = filepath.Join(dir, "jobs.db")
	cfg.Worker.Mode = "inprocess"
	cfg.Retention.Enabled = false

	application, err := app.New(cfg, nil, arbor.NewLogger())
	require.NoError(t, err)

	ts := httptest.NewServer(New(application).Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		application.Close(ctx)
	})
	return ts
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t)
	unknown := common.NewRequestID()

	cases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/api/health", http.StatusOK},
		{"GET", "/api/version", http.StatusOK},
		{"GET", "/api/maps/" + unknown + "/status", http.StatusNotFound},
		{"GET", "/api/maps/" + unknown + "/result", http.StatusNotFound},
		{"GET", "/checkstatus?REQ_ID=" + unknown, http.StatusNotFound},
		{"GET", "/getMap?REQ_ID=" + unknown, http.StatusNotFound},
		{"PUT", "/getMap", http.StatusMethodNotAllowed},
		{"GET", "/api/maps", http.StatusMethodNotAllowed},
		{"POST", "/api/maps", http.StatusBadRequest},
		{"OPTIONS", "/api/maps", http.StatusOK},
		{"GET", "/nowhere", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHealth_Body(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMonitorRoute_Upgrades(t *testing.T) {
	ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/monitor/", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "socketID", msg.Type)
	assert.True(t, common.IsHexToken(msg.Content))
}
