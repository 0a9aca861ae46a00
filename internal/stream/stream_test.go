package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctp-md-gateway/internal/model"
)

func dialTest(t *testing.T, s *Server, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
	return conn
}

func testTick(symbol string) *model.Tick {
	tick := model.NewTick(symbol, "SHFE", time.Now().UTC(), decimal.NewFromInt(3500))
	tick.GatewayName = "ctp_market"
	tick.Status = model.StatusValid
	return tick
}

func TestBroadcastTick(t *testing.T) {
	s := NewServer("")
	conn := dialTest(t, s, "")

	s.TickSink()(testTick("rb2501"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, "tick", env.Type)
	assert.Equal(t, "rb2501", env.Data["symbol"])
}

func TestSymbolFilter(t *testing.T) {
	s := NewServer("")
	conn := dialTest(t, s, "?symbols=hc2501")

	sink := s.TickSink()
	sink(testTick("rb2501")) // filtered out
	sink(testTick("hc2501"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "hc2501")
	assert.NotContains(t, string(msg), "rb2501")
}

func TestParseSymbolFilter(t *testing.T) {
	assert.Empty(t, parseSymbolFilter(""))
	got := parseSymbolFilter("rb2501, hc2501,")
	assert.Len(t, got, 2)
	assert.Contains(t, got, "rb2501")
	assert.Contains(t, got, "hc2501")
}
