// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyago/routeq"
)

func newTestServer(t *testing.T, m *routeq.Manager) (*Server, *websocket.Conn) {
	t.Helper()
	srv := New(m, SetStatsInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.run(ctx)
	go srv.watch(ctx)

	ts := httptest.NewServer(http.HandlerFunc(srv.serveWS))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return srv, ws
}

func readMessageOfType(t *testing.T, ws *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		_, buf, err := ws.ReadMessage()
		require.NoError(t, err)
		var envelope struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(buf, &envelope))
		if envelope.Type == msgType {
			return buf
		}
	}
	t.Fatalf("no %s message received", msgType)
	return nil
}

func TestServerBroadcastsStats(t *testing.T) {
	m := routeq.New()
	require.NoError(t, m.Register("route-optimization", func(context.Context, *routeq.Job, routeq.ProgressFunc) (interface{}, error) {
		return nil, nil
	}))
	t.Cleanup(func() { m.Close() })

	_, err := m.AddJob(context.Background(), "route-optimization", nil, routeq.EnqueueOptions{})
	require.NoError(t, err)

	_, ws := newTestServer(t, m)

	buf := readMessageOfType(t, ws, "SET_STATE")
	var state State
	require.NoError(t, json.Unmarshal(buf, &state))
	require.Contains(t, state.Stats, "route-optimization")
	assert.Equal(t, 1, state.Stats["route-optimization"].Waiting)
}

func TestServerJobLookup(t *testing.T) {
	m := routeq.New()
	require.NoError(t, m.Register("route-optimization", func(context.Context, *routeq.Job, routeq.ProgressFunc) (interface{}, error) {
		return nil, nil
	}))
	t.Cleanup(func() { m.Close() })

	job, err := m.AddJob(context.Background(), "route-optimization", json.RawMessage(`{"routeid":"r1"}`), routeq.EnqueueOptions{})
	require.NoError(t, err)

	_, ws := newTestServer(t, m)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "JOB_LOOKUP", "id": job.ID}))
	buf := readMessageOfType(t, ws, "JOB_LOOKUP")
	var rsp struct {
		Type string      `json:"type"`
		Job  *routeq.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(buf, &rsp))
	require.NotNil(t, rsp.Job)
	assert.Equal(t, job.ID, rsp.Job.ID)
}

func TestServerJobLookupUnknown(t *testing.T) {
	m := routeq.New()
	require.NoError(t, m.Register("route-optimization", func(context.Context, *routeq.Job, routeq.ProgressFunc) (interface{}, error) {
		return nil, nil
	}))
	t.Cleanup(func() { m.Close() })

	_, ws := newTestServer(t, m)

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "JOB_LOOKUP", "id": "no-such-job"}))
	buf := readMessageOfType(t, ws, "JOB_LOOKUP")
	var rsp struct {
		Message string      `json:"message"`
		Job     *routeq.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(buf, &rsp))
	assert.Nil(t, rsp.Job)
	assert.NotEmpty(t, rsp.Message)
}
