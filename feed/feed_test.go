package feed

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmarten/ssvepd/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(stable float64) rx.Event {
	return rx.Event{
		Stable:     &stable,
		Candidate:  &stable,
		Scores:     map[float64]float64{10: 3.5, 15.5: 1.25},
		Confidence: 0.82,
		Timestamp:  time.Date(2024, 3, 1, 12, 30, 45, 250e6, time.UTC),
	}
}

func TestMarshalEvent(t *testing.T) {
	message, err := marshalEvent(testEvent(10))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(message, &payload))
	assert.Equal(t, 10.0, payload["candidate"])
	assert.Equal(t, 10.0, payload["stable"])
	assert.Equal(t, 0.82, payload["confidence"])
	scores, ok := payload["scores"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.5, scores["10"])
	assert.Equal(t, 1.25, scores["15.5"])
}

func TestMarshalEventWithoutDecision(t *testing.T) {
	message, err := marshalEvent(rx.Event{Scores: map[float64]float64{10: 1}})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(message, &payload))
	assert.NotContains(t, payload, "candidate")
	assert.NotContains(t, payload, "stable")
}

func TestFormatDecision(t *testing.T) {
	line := formatDecision(12.5, 0.82, time.Date(2024, 3, 1, 12, 30, 45, 250e6, time.UTC))
	assert.Equal(t, "decision 12.5Hz confidence 0.82 at 12:30:45.250\n", line)
}

func TestTCPServerBroadcastsDecisions(t *testing.T) {
	server, err := NewTCPServer("127.0.0.1:0", "test")
	require.NoError(t, err)
	defer server.Stop()

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	welcome, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, welcome, "decision feed")

	// Give the accept loop time to register the connection before
	// publishing.
	time.Sleep(200 * time.Millisecond)
	server.Publish(testEvent(10))

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "decision 10Hz")
}

func TestTCPServerSuppressesRepeats(t *testing.T) {
	server, err := NewTCPServer("127.0.0.1:0", "test")
	require.NoError(t, err)
	defer server.Stop()
	server.SetSilencePeriod(time.Minute)

	base := time.Now()
	event := testEvent(10)

	event.Timestamp = base
	assert.True(t, server.shouldAnnounce(10, base))
	server.registerDecision(10, base)

	// The same decision within the silence period stays quiet, a different
	// decision or a repeat after the period is announced again.
	assert.False(t, server.shouldAnnounce(10, base.Add(30*time.Second)))
	assert.True(t, server.shouldAnnounce(12, base.Add(time.Second)))
	assert.True(t, server.shouldAnnounce(10, base.Add(2*time.Minute)))
}

func TestTCPServerIgnoresEventsWithoutStableDecision(t *testing.T) {
	server, err := NewTCPServer("127.0.0.1:0", "test")
	require.NoError(t, err)
	defer server.Stop()

	server.Publish(rx.Event{Scores: map[float64]float64{10: 1}})
	assert.False(t, server.hasLastDecision)
}

func TestWebsocketServerStreamsEvents(t *testing.T) {
	server, err := NewWebsocketServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	url := "ws://" + server.Addr().String() + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait until the server has registered the connection.
	deadline := time.Now().Add(2 * time.Second)
	for {
		server.mu.Lock()
		registered := len(server.connections) > 0
		server.mu.Unlock()
		if registered || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	server.Publish(testEvent(15))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(message, &payload))
	assert.Equal(t, 15.0, payload["stable"])
}
