package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(body string) *Entry {
	return &Entry{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func TestPutMatch(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	c, err := s.Open(ctx, "v1")
	if err != nil {
		t.Fatalf("Open(v1) failed: %v", err)
	}
	if err := c.Put(ctx, "http://app/style.css", entry("body{}")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := c.Match(ctx, "http://app/style.css")
	if err != nil || got == nil {
		t.Fatalf("Match() = %v, %v", got, err)
	}
	if string(got.Body) != "body{}" || got.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Match() = %+v", got)
	}

	miss, err := c.Match(ctx, "http://app/missing.js")
	if err != nil || miss != nil {
		t.Errorf("Match(missing) = %v, %v, want nil, nil", miss, err)
	}

	// Overwrite wins.
	_ = c.Put(ctx, "http://app/style.css", entry("p{}"))
	got, _ = c.Match(ctx, "http://app/style.css")
	if string(got.Body) != "p{}" {
		t.Errorf("body after overwrite = %q", got.Body)
	}
}

func TestPutAfterDelete(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	c, _ := s.Open(ctx, "v1")
	if existed, err := s.Delete(ctx, "v1"); err != nil || !existed {
		t.Fatalf("Delete() = %v, %v", existed, err)
	}
	if err := c.Put(ctx, "k", entry("x")); !errors.Is(err, ErrNoCache) {
		t.Errorf("Put() on deleted cache = %v, want ErrNoCache", err)
	}
	if has, _ := s.Has(ctx, "v1"); has {
		t.Error("deleted cache was recreated")
	}
}

func TestPopulateReplacesContents(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	c, _ := s.Open(ctx, "v2")
	_ = c.Put(ctx, "stale", entry("old"))

	err := s.Populate(ctx, "v2", map[string]*Entry{
		"a": entry("A"),
		"b": entry("B"),
	})
	if err != nil {
		t.Fatalf("Populate() failed: %v", err)
	}

	keys, _ := c.Keys(ctx)
	if strings.Join(keys, ",") != "a,b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}
}

func TestPopulateIsAtomic(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	ctxCancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Populate(ctxCancelled, "v3", map[string]*Entry{"a": entry("A")}); err == nil {
		t.Fatal("Populate() with cancelled context succeeded")
	}
	if has, _ := s.Has(ctx, "v3"); has {
		t.Error("failed Populate() left a cache behind")
	}
}

func TestDeleteKeepsOtherCaches(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	_ = s.Populate(ctx, "old", map[string]*Entry{"k": entry("old")})
	_ = s.Populate(ctx, "new", map[string]*Entry{"k": entry("new")})

	if _, err := s.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	names, _ := s.Names(ctx)
	if len(names) != 1 || names[0] != "new" {
		t.Errorf("Names() = %v, want [new]", names)
	}
	got, _ := s.Match(ctx, "k")
	if got == nil || string(got.Body) != "new" {
		t.Errorf("Match() = %+v", got)
	}

	existed, err := s.Delete(ctx, "never")
	if err != nil || existed {
		t.Errorf("Delete(never) = %v, %v", existed, err)
	}
}

func TestMeta(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	if v, err := s.Meta(ctx, "active"); err != nil || v != "" {
		t.Fatalf("Meta() = %q, %v", v, err)
	}
	_ = s.SetMeta(ctx, "active", "v1")
	_ = s.SetMeta(ctx, "active", "v2")
	if v, _ := s.Meta(ctx, "active"); v != "v2" {
		t.Errorf("Meta() = %q, want v2", v)
	}
}

func TestEntryRoundTrip(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://app/index.html#top", nil)
	if Key(req) != "http://app/index.html" {
		t.Errorf("Key() = %q", Key(req))
	}

	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader("<html>")),
	}
	e, err := EntryFromResponse(resp)
	if err != nil {
		t.Fatalf("EntryFromResponse() failed: %v", err)
	}

	// The original response stays readable.
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<html>" {
		t.Errorf("original body = %q", body)
	}

	out := e.Response(req)
	body, _ = io.ReadAll(out.Body)
	if out.StatusCode != http.StatusOK || string(body) != "<html>" || out.ContentLength != 6 {
		t.Errorf("Response() = %d %q %d", out.StatusCode, body, out.ContentLength)
	}
}
