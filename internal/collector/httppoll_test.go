package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/portal"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

func testSession(url string) portal.Session {
	return portal.Session{
		IDCot:      "22053",
		AuctionURL: url,
		Margin:     "0,0050",
		Items:      []portal.ItemRef{{ID: "836160", Description: "Insumos"}},
		Cookies:    []portal.Cookie{{Name: "ASP.NET_SessionId", Value: "abc"}},
	}
}

func fastPollConfig() HTTPPollConfig {
	cfg := DefaultHTTPPollConfig()
	cfg.PollSeconds = 0.005
	cfg.MinPollSeconds = 0.001
	return cfg
}

func TestHTTPPollEmitsUpdates(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		d := "null@@$ 1.000.000,0000@@$ 900.000,0000@@"
		if n > 1 {
			d = "null@@$ 1.000.000,0000@@$ 890.000,0000@@Subasta Finalizada"
		}
		json.NewEncoder(w).Encode(map[string]string{"d": d})
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	client, err := portal.NewClient(session, portal.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	out := queue.NewBounded[event.Event](64)
	h := NewHTTPPoll(fastPollConfig(), session, client, out, queue.NewControl(), nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	h.Stop(context.Background())

	if events[0].Type != event.TypeSnapshot {
		t.Fatalf("first event = %s, want SNAPSHOT", events[0].Type)
	}
	if got := countType(events, event.TypeUpdate); got != 2 {
		t.Errorf("UPDATE count = %d, want 2", got)
	}
	if events[len(events)-1].Type != event.TypeEnd {
		t.Errorf("last event = %s, want END", events[len(events)-1].Type)
	}
}

func TestHTTPPollParseFailureIsNotATransportError(t *testing.T) {
	// First response is a malformed payload; the poller must skip it
	// without emitting HTTP_ERROR, then carry on with the good responses.
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := "sin delimitadores"
		if calls.Add(1) > 1 {
			d = "null@@$ 1.000,0000@@$ 900,0000@@Subasta Finalizada"
		}
		json.NewEncoder(w).Encode(map[string]string{"d": d})
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	client, err := portal.NewClient(session, portal.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	out := queue.NewBounded[event.Event](64)
	h := NewHTTPPoll(fastPollConfig(), session, client, out, queue.NewControl(), nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	h.Stop(context.Background())

	if got := countType(events, event.TypeHTTPError); got != 0 {
		t.Errorf("HTTP_ERROR count = %d, want 0 (parse failures are skipped)", got)
	}
	if got := countType(events, event.TypeUpdate); got != 1 {
		t.Errorf("UPDATE count = %d, want 1", got)
	}
	if events[len(events)-1].Type != event.TypeEnd {
		t.Errorf("last event = %s, want END", events[len(events)-1].Type)
	}
}

func TestHTTPPollSessionExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	client, err := portal.NewClient(session, portal.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	cfg := fastPollConfig()
	cfg.SessionExpiryThreshold = 3

	out := queue.NewBounded[event.Event](64)
	h := NewHTTPPoll(cfg, session, client, out, queue.NewControl(), nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var expired *event.HTTPError
	var errorCount int
loop:
	for {
		select {
		case <-deadline:
			t.Fatal("no session-expired event within deadline")
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, ok := out.Receive(ctx)
		cancel()
		if !ok {
			break
		}
		if ev.Type == event.TypeHTTPError {
			errorCount++
			if ev.HTTPError != nil && ev.HTTPError.SessionExpired {
				expired = ev.HTTPError
				break loop
			}
		}
	}
	h.Stop(context.Background())

	if expired == nil {
		t.Fatal("no session-expired HTTP_ERROR emitted")
	}
	if expired.Status != http.StatusUnauthorized {
		t.Errorf("expired.Status = %d, want 401", expired.Status)
	}
	if errorCount < 3 {
		t.Errorf("error events before expiry = %d, want >= threshold 3", errorCount)
	}
}

func TestHTTPPollTimeoutFollowsMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"d": "null@@$ 1.000,0000@@$ 900,0000@@"})
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	client, err := portal.NewClient(session, portal.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	cfg := fastPollConfig()
	cfg.Intensive = false
	NewHTTPPoll(cfg, session, client, queue.NewBounded[event.Event](4), queue.NewControl(), nil)
	if got := client.Timeout(); got != portal.DefaultTimeout {
		t.Errorf("light mode Timeout() = %v, want %v", got, portal.DefaultTimeout)
	}

	cfg.Intensive = true
	out := queue.NewBounded[event.Event](64)
	control := queue.NewControl()
	h := NewHTTPPoll(cfg, session, client, out, control, nil)
	if got := client.Timeout(); got != portal.IntensiveTimeout {
		t.Errorf("intensive mode Timeout() = %v, want %v", got, portal.IntensiveTimeout)
	}

	// Toggling at runtime relaxes the deadline again.
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	control.Post(queue.Command{Kind: queue.CmdSetIntensive, Enabled: false})

	deadline := time.Now().Add(2 * time.Second)
	for client.Timeout() != portal.DefaultTimeout {
		if time.Now().After(deadline) {
			t.Fatalf("Timeout() = %v after CmdSetIntensive(false), want %v",
				client.Timeout(), portal.DefaultTimeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.Stop(context.Background())
}

func TestHTTPPollStopCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"d": "null@@$ 1.000,0000@@$ 900,0000@@"})
	}))
	defer srv.Close()

	session := testSession(srv.URL)
	client, err := portal.NewClient(session, portal.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	out := queue.NewBounded[event.Event](64)
	control := queue.NewControl()
	h := NewHTTPPoll(fastPollConfig(), session, client, out, control, nil)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	control.Post(queue.Command{Kind: queue.CmdStop, Reason: "handoff"})

	events := collect(t, out)
	h.Stop(context.Background())

	last := events[len(events)-1]
	if last.Type != event.TypeStop {
		t.Fatalf("last event = %s, want STOP", last.Type)
	}
	if last.Message != "handoff" {
		t.Errorf("STOP message = %q, want handoff", last.Message)
	}
}
