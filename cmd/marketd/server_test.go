package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"jobledger/core"
	"jobledger/native/reputation"
	"jobledger/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *core.Node) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Allocations: map[[20]byte]*big.Int{
			{0x01}: big.NewInt(5_000_000_000),
			{0x02}: big.NewInt(5_000_000_000),
		},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	srv := httptest.NewServer(newRouter(node, nil))
	t.Cleanup(srv.Close)
	return srv, node
}

func getJSON(t *testing.T, url string, want int, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s: status %d, want %d: %s", url, resp.StatusCode, want, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	getJSON(t, srv.URL+"/healthz", http.StatusOK, nil)
	getJSON(t, srv.URL+"/metrics", http.StatusOK, nil)
	getJSON(t, srv.URL+"/v1/events", http.StatusNotFound, nil)
}

func TestQueryEndpoints(t *testing.T) {
	srv, node := newTestServer(t)
	ctx := context.Background()
	client, worker := [20]byte{0x01}, [20]byte{0x02}

	if _, err := node.CreateProfile(ctx, core.Call{Caller: worker, Now: 1}, reputation.RoleWorker, big.NewInt(1_000_000_000), nil); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	job, err := node.PostJob(ctx, core.Call{Caller: client, Now: 2}, "translate", "", "", big.NewInt(900), 0)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	bid, err := node.SubmitBid(ctx, core.Call{Caller: worker, Now: 3}, job.ID, big.NewInt(900), "", 1)
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	esc, err := node.AcceptBid(ctx, core.Call{Caller: client, Now: 4}, bid.ID, core.EscrowTerms{Timeout: 60})
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}

	var jv jobView
	getJSON(t, srv.URL+"/v1/jobs/1", http.StatusOK, &jv)
	if jv.Status != "in_progress" || jv.SelectedWorker != ethcommon.Address(worker).Hex() {
		t.Fatalf("unexpected job view %+v", jv)
	}
	getJSON(t, srv.URL+"/v1/jobs/99", http.StatusNotFound, nil)
	getJSON(t, srv.URL+"/v1/jobs/abc", http.StatusBadRequest, nil)

	var ev escrowView
	getJSON(t, srv.URL+"/v1/escrows/"+hex.EncodeToString(esc.ID[:]), http.StatusOK, &ev)
	if ev.Status != "locked" || ev.Locked != "900" || !ev.CanRelease || ev.Deadline != 64 {
		t.Fatalf("unexpected escrow view %+v", ev)
	}
	getJSON(t, srv.URL+"/v1/escrows/zz", http.StatusBadRequest, nil)

	var pv profileView
	getJSON(t, srv.URL+"/v1/profiles/"+ethcommon.Address(worker).Hex(), http.StatusOK, &pv)
	if pv.Role != "worker" || pv.Reputation != 50 || !pv.Qualified {
		t.Fatalf("unexpected profile view %+v", pv)
	}

	var status map[string]interface{}
	getJSON(t, srv.URL+"/v1/status", http.StatusOK, &status)
	if status["sequence"].(float64) < 4 {
		t.Fatalf("unexpected status %v", status)
	}
}
