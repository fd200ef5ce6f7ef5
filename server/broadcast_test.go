package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/shopreel/pipeline"
)

// dialTestServer upgrades one WebSocket client against a hub that is
// already running, and consumes the version handshake.
func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var handshake map[string]interface{}
	if err := conn.ReadJSON(&handshake); err != nil {
		t.Fatalf("reading version handshake: %v", err)
	}
	if handshake["type"] != "version" {
		t.Fatalf("expected a version handshake first, got %v", handshake["type"])
	}

	// The handshake is written before the hub registers the client;
	// wait for registration so no broadcast slips past us.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.RLock()
		registered := len(srv.clients) > 0
		srv.mu.RUnlock()
		if registered {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWebSocketJobUpdateBroadcast(t *testing.T) {
	srv := newTestServer(t)

	srv.wg.Add(1)
	go srv.run()
	srv.startJobUpdateBroadcaster()

	conn := dialTestServer(t, srv)

	job, err := srv.queue.Enqueue(pipeline.JobRequest{
		Owner:          "shop-owner-3",
		ListingID:      "listing-ws",
		ProductTitle:   "Walnut Coasters",
		SourceImageURL: "https://images.example.com/coasters.jpg",
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg JobUpdateMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading job update: %v", err)
	}
	if msg.Type != "job_update" {
		t.Errorf("expected job_update, got %s", msg.Type)
	}
	if msg.Job == nil || msg.Job.ID != job.ID {
		t.Fatalf("update should carry the enqueued job, got %+v", msg.Job)
	}
	if msg.Job.Status != pipeline.JobStatusPending {
		t.Errorf("first update is the pending record, got %s", msg.Job.Status)
	}
}

func TestWebSocketSeesEveryStatus(t *testing.T) {
	srv := newTestServer(t)

	srv.wg.Add(1)
	go srv.run()
	srv.startJobUpdateBroadcaster()

	conn := dialTestServer(t, srv)

	job, err := srv.queue.Enqueue(pipeline.JobRequest{
		Owner:          "shop-owner-3",
		ListingID:      "listing-watch",
		ProductTitle:   "Dip-Dyed Candles",
		SourceImageURL: "https://images.example.com/candles.jpg",
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	job.EnterImageStage(false)
	if err := srv.queue.UpdateJob(job); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	want := []pipeline.JobStatus{
		pipeline.JobStatusPending,
		pipeline.JobStatusOptimizingImage,
	}
	for i, expected := range want {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg JobUpdateMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading update %d: %v", i, err)
		}
		if msg.Job.Status != expected {
			t.Errorf("update %d: expected %s, got %s", i, expected, msg.Job.Status)
		}
	}
}

func TestBroadcastMessageCountsDeliveries(t *testing.T) {
	srv := newTestServer(t)

	if sent := srv.broadcastMessage(StatusMessage{Type: "status"}); sent != 0 {
		t.Errorf("no clients connected, expected 0 deliveries, got %d", sent)
	}

	full := &Client{sendMsg: make(chan interface{})} // unbuffered, nobody reading
	roomy := &Client{sendMsg: make(chan interface{}, 1)}
	srv.mu.Lock()
	srv.clients[full] = true
	srv.clients[roomy] = true
	srv.mu.Unlock()

	if sent := srv.broadcastMessage(StatusMessage{Type: "status"}); sent != 1 {
		t.Errorf("expected 1 delivery past the stuck client, got %d", sent)
	}
	if drops := srv.broadcastDrops.Load(); drops != 1 {
		t.Errorf("expected 1 recorded drop, got %d", drops)
	}
}

func TestJobUpdateMessageShape(t *testing.T) {
	msg := JobUpdateMessage{
		Type:      "job_update",
		Job:       &pipeline.Job{ID: "REEL_SHAPE", Status: pipeline.JobStatusCompleted},
		Timestamp: 1234,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, key := range []string{`"type":"job_update"`, `"timestamp":1234`, `"REEL_SHAPE"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("message missing %s: %s", key, raw)
		}
	}
}
