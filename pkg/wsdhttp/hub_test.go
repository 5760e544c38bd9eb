package wsdhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// dialHub upgrades a single test-server connection and registers it in h
// under sessionID, returning the client-side connection for assertions.
func dialHub(t *testing.T, h *hub, sessionID string) (*websocket.Conn, func()) {
	t.Helper()
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		h.add(sessionID, conn)
	}))

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return client, func() {
		h.remove(sessionID)
		_ = client.Close()
		srv.Close()
	}
}

func TestHub_SendDeliversTextThenBinaryFrame(t *testing.T) {
	h := newHub()
	client, cleanup := dialHub(t, h, "sess-1")
	defer cleanup()

	time.Sleep(10 * time.Millisecond) // let the server-side add() land
	h.send("sess-1", "statechanged: state=LOCK_LOST", []byte{0x01, 0x02})

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.Equal(t, "statechanged: state=LOCK_LOST", string(data))

	msgType, data, err = client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.Equal(t, []byte{0x01, 0x02}, data)
}

func TestHub_SendToUnknownSessionIsNoop(t *testing.T) {
	h := newHub()
	h.send("nobody", "ignored", nil)
}

func TestHub_RemoveThenSendIsNoop(t *testing.T) {
	h := newHub()
	client, cleanup := dialHub(t, h, "sess-2")
	defer cleanup()

	time.Sleep(10 * time.Millisecond)
	h.remove("sess-2")
	h.send("sess-2", "should not arrive", nil)

	_ = client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
}
