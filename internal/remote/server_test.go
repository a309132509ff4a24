package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer(t *testing.T) (*SQLiteStore, *HTTPStore) {
	t.Helper()
	backing := testStore(t)
	srv := NewServer(backing, &ServerConfig{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.cancel()
		ts.Close()
	})

	client, err := NewHTTPStore(ts.URL, ts.Client(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewHTTPStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return backing, client
}

func TestHTTPStoreRoundTrip(t *testing.T) {
	backing, client := testServer(t)
	ctx := context.Background()

	key, err := client.Append(ctx, "users/u1/exposures")
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if key == "" {
		t.Fatal("Append() returned empty key")
	}

	path := ExposurePath("u1", key)
	if err := client.Write(ctx, path, json.RawMessage(`{"situation":"bus"}`)); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	direct, _ := backing.Read(ctx, path)
	if string(direct) != `{"situation":"bus"}` {
		t.Errorf("backing value = %s", direct)
	}

	v, err := client.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if string(v) != `{"situation":"bus"}` {
		t.Errorf("Read() = %s", v)
	}

	if err := client.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	v, err = client.Read(ctx, path)
	if err != nil || v != nil {
		t.Errorf("Read() after delete = %s, %v", v, err)
	}
}

func TestHTTPStoreInvalidPath(t *testing.T) {
	_, client := testServer(t)
	if _, err := client.Read(context.Background(), "users/a.b"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Read() = %v, want ErrInvalidPath", err)
	}
}

func TestServerRejectsInvalidJSON(t *testing.T) {
	backing := testStore(t)
	srv := NewServer(backing, &ServerConfig{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/users/u1/goals", strings.NewReader("{not json"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHTTPStoreSubscribe(t *testing.T) {
	backing, client := testServer(t)
	ctx := context.Background()

	got := make(chan json.RawMessage, 16)
	unsubscribe, err := client.Subscribe(ctx, "users/u1/goals", func(v json.RawMessage) { got <- v })
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer unsubscribe()

	if v := waitValue(t, got); v != nil {
		t.Errorf("initial value = %s, want nil", v)
	}

	_ = backing.Write(ctx, "users/u1/goals", json.RawMessage(`["walk"]`))
	if !eventually(t, got, func(v json.RawMessage) bool { return string(v) == `["walk"]` }) {
		t.Fatal("did not observe written goals")
	}
}
