package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pmx/market-engine/internal/api"
)

// dialHub connects a test client and waits until the hub has registered it.
func dialHub(t *testing.T, hub *api.Hub, srv *httptest.Server, already int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() <= already {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := api.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, hub, srv, 0)

	hub.Broadcast(api.Event{
		Type:     "trade_executed",
		MarketID: "m-1",
		Action:   "BUY",
		Outcome:  "YES",
		Shares:   "117.09867925",
		Dollars:  "100",
		PriceYes: "0.99084326",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev api.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != "trade_executed" {
		t.Errorf("expected trade_executed, got %s", ev.Type)
	}
	if ev.MarketID != "m-1" {
		t.Errorf("expected market m-1, got %s", ev.MarketID)
	}
	if ev.Shares != "117.09867925" {
		t.Errorf("unexpected shares: %s", ev.Shares)
	}
}

func TestHubBroadcast_ReachesAllClients(t *testing.T) {
	hub := api.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	first := dialHub(t, hub, srv, 0)
	second := dialHub(t, hub, srv, 1)

	hub.Broadcast(api.Event{Type: "market_created", MarketID: "m-1"})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev api.Event
		json.Unmarshal(raw, &ev)
		if ev.Type != "market_created" {
			t.Errorf("expected market_created, got %s", ev.Type)
		}
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := api.NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, hub, srv, 0)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 0 clients after close, got %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
