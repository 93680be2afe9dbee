package netx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchJSONAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.json":
			_, _ = w.Write([]byte(`{"id":"c1"}`))
		case "/a.txt":
			_, _ = w.Write([]byte("not json"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{})
	d, err := c.Fetch(context.Background(), srv.URL+"/a.json")
	if err != nil {
		t.Fatal(err)
	}
	var v struct{ ID string }
	if !d.IsJSON() || d.Decode(&v) != nil || v.ID != "c1" {
		t.Fatalf("unexpected json data: %+v", d)
	}

	d, err = c.Fetch(context.Background(), srv.URL+"/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if d.IsJSON() || d.Text() != "not json" {
		t.Fatalf("expected text body, got %q json=%v", d.Text(), d.IsJSON())
	}

	_, err = c.Fetch(context.Background(), srv.URL+"/missing")
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusNotFound {
		t.Fatalf("expected HTTPError 404, got %v", err)
	}
}

func TestProbeExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe method = %s", r.Method)
		}
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{ProbeTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	if !c.ProbeExists(ctx, srv.URL+"/ok") {
		t.Fatalf("expected /ok to exist")
	}
	if c.ProbeExists(ctx, srv.URL+"/nope") {
		t.Fatalf("expected 404 to be false")
	}
	if c.ProbeExists(ctx, srv.URL+"/slow") {
		t.Fatalf("expected timeout to be false")
	}
	if c.ProbeExists(ctx, "http://127.0.0.1:1/unreachable") {
		t.Fatalf("expected transport error to be false")
	}
}

func TestLoadWithFallbackPrimaryTimesOut(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"from":"secondary"}`))
	}))
	defer secondary.Close()

	c := New(Config{Mirrors: []string{primary.URL, secondary.URL + "/"}})
	res := c.LoadWithFallback(context.Background(), "x.json", LoadOptions{PreferPrimary: true, Timeout: 100 * time.Millisecond})
	raw, ok := res.Get()
	if !ok {
		t.Fatalf("expected payload, got offline: %s", res.Reason())
	}
	var v map[string]string
	if err := json.Unmarshal(raw, &v); err != nil || v["from"] != "secondary" {
		t.Fatalf("unexpected payload %s err=%v", raw, err)
	}
}

func TestLoadWithFallbackOrderAndRetries(t *testing.T) {
	var primaryHits, secondaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer secondary.Close()

	c := New(Config{Mirrors: []string{primary.URL, secondary.URL}})
	res := c.LoadWithFallback(context.Background(), "/y.json", LoadOptions{PreferPrimary: false, Retries: 2})
	if !res.IsOffline() || res.Reason() == "" {
		t.Fatalf("expected offline result")
	}
	if primaryHits.Load() != 3 || secondaryHits.Load() != 3 {
		t.Fatalf("hits primary=%d secondary=%d, want 3/3", primaryHits.Load(), secondaryHits.Load())
	}

	urls := c.candidateURLs("y.json", false)
	if urls[0] != secondary.URL+"/y.json" {
		t.Fatalf("preferPrimary=false should start with secondary, got %v", urls)
	}
}

func TestLoadIntoDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()
	c := New(Config{Mirrors: []string{srv.URL}})
	res := LoadInto[[]struct{ ID string }](context.Background(), c, "list.json", LoadOptions{PreferPrimary: true})
	items := res.OrElse(nil)
	if len(items) != 2 || items[1].ID != "b" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestDownloadWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "cache", "c1#1$1.png")
	c := New(Config{})
	n, err := c.Download(context.Background(), srv.URL+"/c1.png", dst)
	if err != nil || n != 7 {
		t.Fatalf("download n=%d err=%v", n, err)
	}
	b, _ := os.ReadFile(dst)
	if string(b) != "PNGDATA" {
		t.Fatalf("unexpected content %q", b)
	}
	if _, err := c.Download(context.Background(), srv.URL+"/gone.png", dst+".2"); err == nil {
		t.Fatalf("expected 404 error")
	}
}

func TestOversizedBodiesAreRejected(t *testing.T) {
	old := maxBodyBytes
	maxBodyBytes = 4
	t.Cleanup(func() { maxBodyBytes = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exact.png" {
			_, _ = w.Write([]byte("PNGD"))
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()
	c := New(Config{})

	if _, err := c.Fetch(context.Background(), srv.URL+"/big.json"); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("fetch: expected ErrBodyTooLarge, got %v", err)
	}

	dir := filepath.Join(t.TempDir(), "cache")
	dst := filepath.Join(dir, "big.png")
	if _, err := c.Download(context.Background(), srv.URL+"/big.png", dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("download: expected ErrBodyTooLarge, got %v", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("truncated file left at %s", dst)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %v", entries)
	}

	if n, err := c.Download(context.Background(), srv.URL+"/exact.png", dst); err != nil || n != 4 {
		t.Fatalf("body at the limit: n=%d err=%v", n, err)
	}
}

func TestAssetSourceURLEscapesHash(t *testing.T) {
	srcs := ParseAssetSources([]string{"https://a.example/avg/{file}.png", "", "https://no-placeholder.example/x"})
	if len(srcs) != 1 || srcs[0].Name != "a.example" {
		t.Fatalf("unexpected sources %+v", srcs)
	}
	if got := srcs[0].URL("c1#2$1"); got != "https://a.example/avg/c1%232$1.png" {
		t.Fatalf("got %q", got)
	}
}
