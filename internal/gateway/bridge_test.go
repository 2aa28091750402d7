package gateway

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
	"go.uber.org/zap"

	"ibkr-turtle-bot-go/internal/models"
)

func newTestBridge(t *testing.T, handler http.Handler) (*BridgeGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return NewBridgeGateway(server.URL, wsURL, 11, zap.NewNop().Sugar()), server
}

func TestConnect_SendsClientID(t *testing.T) {
	var gotClientID string
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/v1/sessions", r.URL.Path)
		gotClientID = r.URL.Query().Get("client_id")
		w.Write([]byte(`{}`))
	}))

	require.NoError(t, gw.Connect())
	assert.Equal(t, "11", gotClientID, "every request must carry the session id")
}

func TestDoRequest_DecodesErrorEnvelope(t *testing.T) {
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": 504, "msg": "pacing violation"}`))
	}))

	err := gw.Connect()
	require.Error(t, err)
	var gwErr *models.Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 504, gwErr.Code)
	assert.Contains(t, gwErr.Msg, "pacing")
}

func TestFetchHistory_SortsByTime(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2025, 6, n, 0, 0, 0, 0, time.UTC) }
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/history", r.URL.Path)
		assert.Equal(t, "TQQQ", r.URL.Query().Get("symbol"))
		assert.Equal(t, "120", r.URL.Query().Get("days"))
		// Served out of order on purpose.
		json.NewEncoder(w).Encode([]models.Bar{
			{Time: day(3), Close: 103},
			{Time: day(1), Close: 101},
			{Time: day(2), Close: 102},
		})
	}))

	bars, err := gw.FetchHistory("TQQQ", 120, "1 day")
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 102.0, bars[1].Close)
	assert.Equal(t, 103.0, bars[2].Close)
}

func TestPlaceLimitOrder(t *testing.T) {
	var received models.Order
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/api/v1/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		received.Status = "Submitted"
		json.NewEncoder(w).Encode(received)
	}))

	order, err := gw.PlaceLimitOrder("TQQQ", models.Buy, 100, 169.5)
	require.NoError(t, err)
	assert.Equal(t, "LIMIT", received.Type)
	assert.Equal(t, models.Buy, received.Side)
	assert.Equal(t, 100.0, received.Quantity)
	assert.Equal(t, 169.5, received.Price)
	assert.True(t, strings.HasPrefix(received.ID, "turtle-"), "client order ids carry the app prefix")
	assert.Equal(t, "Submitted", order.Status)
}

func TestWaitForFill(t *testing.T) {
	var polls int
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "Submitted"
		if polls >= 2 {
			status = "Filled"
		}
		json.NewEncoder(w).Encode(models.Order{ID: "abc", Status: status})
	}))

	filled, err := gw.WaitForFill("abc", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, filled)
	assert.GreaterOrEqual(t, polls, 2)
}

func TestWaitForFill_Timeout(t *testing.T) {
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Order{ID: "abc", Status: "Submitted"})
	}))

	// A timeout is an outcome, not an error: the caller escalates to a
	// market order from here.
	filled, err := gw.WaitForFill("abc", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, filled)
}

func TestQueryLastExecution(t *testing.T) {
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.Execution{
			{Symbol: "TQQQ", Price: 150, Time: 1000},
			{Symbol: "TQQQ", Price: 155, Time: 3000},
			{Symbol: "TQQQ", Price: 152, Time: 2000},
		})
	}))

	exec, err := gw.QueryLastExecution("TQQQ", "")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, int64(3000), exec.Time, "the most recent execution wins")
	assert.Equal(t, 155.0, exec.Price)
}

func TestQueryLastExecution_NoHistory(t *testing.T) {
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	exec, err := gw.QueryLastExecution("TQQQ", "")
	require.NoError(t, err)
	assert.Nil(t, exec, "no execution history must be (nil, nil)")
}

func TestSubscribeTicks_DeliversAndClosesOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gw, _ := newTestBridge(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/ws/ticks/TQQQ"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		tick := models.Tick{Symbol: "TQQQ", Time: time.Now().UnixMilli(), Open: 1, High: 2, Low: 1, Last: 1.5}
		require.NoError(t, conn.WriteJSON(tick))
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	ticks, err := gw.SubscribeTicks(ctx, "TQQQ")
	require.NoError(t, err)

	select {
	case tick := <-ticks:
		assert.Equal(t, "TQQQ", tick.Symbol)
		assert.Equal(t, 1.5, tick.Last)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received over the websocket")
	}

	cancel()
	select {
	case _, open := <-ticks:
		assert.False(t, open, "the tick channel must close after cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("tick channel did not close after cancellation")
	}
}

func TestSubscribeTicks_BadAddress(t *testing.T) {
	gw := NewBridgeGateway("http://127.0.0.1:1", "ws://127.0.0.1:1", 11, zap.NewNop().Sugar())
	_, err := gw.SubscribeTicks(context.Background(), "TQQQ")
	assert.Error(t, err)
}
