package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stheg/dao-market-referrals-program/internal/config"
	"github.com/stheg/dao-market-referrals-program/internal/engine"
	"github.com/stheg/dao-market-referrals-program/internal/events"
)

type delivery struct {
	event    string
	delivery string
	secret   string
	body     webhookEvent
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []delivery
		fail bool
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		got = append(got, delivery{
			event:    r.Header.Get("X-DAO-Event"),
			delivery: r.Header.Get("X-DAO-Delivery"),
			secret:   r.Header.Get("X-DAO-Secret"),
			body:     evt,
		})
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t)
	defer cleanup()
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.ProposalCreated},
		Secret: "s3cret",
	}}
	d := newWebhookDispatcher(e, nil)
	if d == nil {
		t.Fatal("dispatcher not built for configured webhook")
	}
	ctx := context.Background()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	// the first poll only pins the cursor at the existing log
	d.dispatchAll(ctx)
	if n := count(); n != 0 {
		t.Fatalf("delivered %d historical events", n)
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	if _, err := e.SetMinQuorum(ctx, chair, 30); err != nil {
		t.Fatalf("set quorum: %v", err)
	}
	p, err := e.AddProposal(ctx, chair, engine.ProposalCreateOptions{Recipient: alice, Description: "ping"})
	if err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	d.dispatchAll(ctx)
	if n := count(); n != 0 {
		t.Fatalf("failed delivery recorded %d events", n)
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d: %+v", len(got), got)
	}
	first := got[0]
	if first.event != events.ProposalCreated || first.secret != "s3cret" || first.delivery == "" {
		t.Fatalf("unexpected headers: %+v", first)
	}
	if first.body.Type != events.ProposalCreated || first.body.EntityKind != "proposal" || first.body.EntityID != "1" {
		t.Fatalf("unexpected body: %+v", first.body)
	}
	var payload map[string]any
	if err := json.Unmarshal(first.body.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["description"] != "ping" || payload["id"] != float64(p.ID) {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if first.body.TS == "" {
		t.Fatalf("missing timestamp")
	}
}
