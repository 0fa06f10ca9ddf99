package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/attendance"
)

const frameWait = 2 * time.Second

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	if token != "" {
		url += "?token=" + token
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if ws != nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

func send(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(frameWait)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func Test_socketApi_auth(t *testing.T) {
	e := setup(t)
	srv := httptest.NewServer(e.app)
	defer srv.Close()

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "Missing token", wantCode: http.StatusUnauthorized},
		{name: "Invalid token", token: "not.a.jwt", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dial(t, srv, tt.token)
			assert.Equal(t, websocket.ErrBadHandshake, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}

	t.Run("Bearer header", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
		header := http.Header{"Authorization": []string{"Bearer " + getToken(t, e.conf, e.teacher)}}
		ws, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		_ = ws.Close()
	})
}

func Test_socketApi_events(t *testing.T) {
	e := setup(t)
	srv := httptest.NewServer(e.app)
	defer srv.Close()

	ws, _, err := dial(t, srv, getToken(t, e.conf, e.teacher))
	require.NoError(t, err)

	send(t, ws, "join_class", 7)
	send(t, ws, "join_class", "8")
	require.Eventually(t, func() bool {
		return e.hub.Subscribers("class_7") == 1 && e.hub.Subscribers("class_8") == 1
	}, frameWait, 10*time.Millisecond)

	tt := httpTest{
		method:   http.MethodPost,
		path:     "/v1/attendance",
		token:    getToken(t, e.conf, e.teacher),
		body:     marchallObj(t, attendance.NewRecord{ClassID: 7, StudentID: e.amani.ID, Status: attendance.StatusPresent}),
		wantCode: http.StatusCreated,
	}
	checkCodeAndData(t, tt, e.serve(tt))

	f := readFrame(t, ws)
	assert.Equal(t, "attendance_updated", f.Event)
	assert.JSONEq(t, `{"classId":7,"studentId":1,"status":"present","method":"manual","timestamp":"2024-03-01T09:05:00.000Z"}`, string(f.Data))

	// after leaving, events of the class are not delivered anymore
	send(t, ws, "leave_class", 7)
	require.Eventually(t, func() bool { return e.hub.Subscribers("class_7") == 0 }, frameWait, 10*time.Millisecond)
	checkCodeAndData(t, tt, e.serve(tt))

	send(t, ws, "ping", nil)
	f = readFrame(t, ws)
	assert.Equal(t, "error", f.Event)
	assert.JSONEq(t, `"unknown event \"ping\""`, string(f.Data))

	// closing the connection drops the remaining subscriptions
	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return e.hub.Subscribers("class_8") == 0 }, frameWait, 10*time.Millisecond)
}

func Test_socketApi_badFrames(t *testing.T) {
	e := setup(t)
	srv := httptest.NewServer(e.app)
	defer srv.Close()

	// any authenticated user may listen to a class
	ws, _, err := dial(t, srv, getToken(t, e.conf, e.amani))
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{name: "malformed", frame: `{"event":`, want: `"malformed frame"`},
		{name: "missing class id", frame: `{"event":"join_class"}`, want: `"invalid class id"`},
		{name: "negative class id", frame: `{"event":"join_class","data":-7}`, want: `"invalid class id"`},
		{name: "non numeric class id", frame: `{"event":"leave_class","data":"piano"}`, want: `"invalid class id"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			f := readFrame(t, ws)
			assert.Equal(t, "error", f.Event)
			assert.JSONEq(t, tt.want, string(f.Data))
		})
	}

	send(t, ws, "join_class", 7)
	require.Eventually(t, func() bool { return e.hub.Subscribers("class_7") == 1 }, frameWait, 10*time.Millisecond)
}
