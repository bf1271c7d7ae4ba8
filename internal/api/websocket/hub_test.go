package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenOBDCore/internal/pid"
	"github.com/KevinKickass/OpenOBDCore/internal/response"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientSubscribe(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wants("010C"))

	c.subscribe([]string{"0x010d", " 0105 ", ""})
	assert.True(t, c.wants("010D"))
	assert.True(t, c.wants("0105"))
	assert.False(t, c.wants("010C"))

	c.subscribe(nil)
	assert.True(t, c.wants("010C"))
}

func TestHubDeliverFilters(t *testing.T) {
	h := NewHub(zap.NewNop())
	all := &Client{send: make(chan []byte, 4)}
	speed := &Client{send: make(chan []byte, 4)}
	speed.subscribe([]string{"010D"})
	h.clients[all] = true
	h.clients[speed] = true

	h.deliver(outbound{pid: "010C", data: []byte("rpm")})
	h.deliver(outbound{pid: "010D", data: []byte("speed")})
	h.deliver(outbound{data: []byte("state")})

	assert.Len(t, all.send, 3)
	require.Len(t, speed.send, 2)
	assert.Equal(t, "speed", string(<-speed.send))
	assert.Equal(t, "state", string(<-speed.send))
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := &Client{send: make(chan []byte)}
	h.clients[slow] = true

	h.deliver(outbound{data: []byte("x")})
	assert.Equal(t, 0, h.GetClientCount())

	_, ok := <-slow.send
	assert.False(t, ok)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubLiveStream(t *testing.T) {
	h := NewHub(zap.NewNop())
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(SubscribeRequest{Type: MessageTypeSubscribe, PIDs: []string{"010D"}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			return !c.wants("010C")
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	h.Observe(scheduler.Result{PID: pid.RPM, Name: "rpm", Valid: true, Value: 6904, Scaled: 1726})
	h.Observe(scheduler.Result{
		PID:      pid.Speed,
		Name:     "speed",
		Outcome:  response.NoData,
		Elapsed:  1500 * time.Millisecond,
		Interval: 250 * time.Millisecond,
	})
	h.StateChanged(scheduler.StateConnected, scheduler.StateError)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeQueryError, msg.Type)
	assert.Equal(t, "010D", msg.PID)
	data, _ := msg.Data.(map[string]any)
	assert.Equal(t, response.NoData.String(), data["outcome"])
	assert.Equal(t, 250.0, data["interval_ms"])

	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeSessionState, msg.Type)
	data, _ = msg.Data.(map[string]any)
	assert.Equal(t, "ERROR", data["state"])
	assert.Equal(t, "CONNECTED", data["previous_state"])
}

func TestObserveSample(t *testing.T) {
	h := NewHub(zap.NewNop())

	h.Observe(scheduler.Result{
		PID:     pid.RPM,
		Name:    "rpm",
		Unit:    "rpm",
		Valid:   true,
		Value:   6904,
		Scaled:  1726,
		Elapsed: 120 * time.Millisecond,
	})

	msg := <-h.broadcast
	assert.Equal(t, MessageTypeSample, msg.Type)
	assert.Equal(t, "010C", msg.PID)
	assert.Equal(t, SampleData{Name: "rpm", Value: 6904, Scaled: 1726, Unit: "rpm", ElapsedMs: 120}, msg.Data)
}
