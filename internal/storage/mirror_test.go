package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/ocrworker/internal/paths"
)

// fakeRemote keeps objects in memory and serves signed URLs from an
// httptest server.
type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string][]byte
	existsErr error
	uploadErr error
	server    *httptest.Server
	calls     map[string]int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{objects: map[string][]byte{}, calls: map[string]int{}}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := strings.TrimPrefix(req.URL.Path, "/")
		if key == "fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		r.mu.Lock()
		data, ok := r.objects[key]
		r.calls["http"]++
		r.mu.Unlock()
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRemote) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRemote) put(key, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = []byte(body)
}

func (r *fakeRemote) Exists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["exists"]++
	if r.existsErr != nil {
		return false, transportErr("head", key, r.existsErr)
	}
	_, ok := r.objects[key]
	return ok, nil
}

func (r *fakeRemote) Download(_ context.Context, key, dst string) error {
	r.mu.Lock()
	r.calls["download"]++
	data, ok := r.objects[key]
	r.mu.Unlock()
	if !ok {
		return ErrObjectNotFound
	}
	return writeFileAtomic(dst, strings.NewReader(string(data)))
}

func (r *fakeRemote) Upload(_ context.Context, src, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["upload"]++
	if r.uploadErr != nil {
		return transportErr("put", key, r.uploadErr)
	}
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	r.objects[key] = data
	return nil
}

func (r *fakeRemote) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return r.server.URL + "/" + key, nil
}

func newTestMirror(t *testing.T, remote Remote) (Mirror, paths.Resolver) {
	t.Helper()
	resolver := paths.Resolver{MediaRoot: t.TempDir(), Prefix: "tenant"}
	return NewMirror(remote, MirrorConfig{Resolver: resolver}), resolver
}

func writeLocal(t *testing.T, resolver paths.Resolver, key, body string) string {
	t.Helper()
	p := resolver.Abs(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEnsureLocal(t *testing.T) {
	ctx := context.Background()
	key := paths.DocVerPath("abcdef12", "doc.pdf")

	t.Run("local hit makes no remote call", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)
		want := writeLocal(t, resolver, key, "local")

		got, err := m.EnsureLocal(ctx, key)
		if err != nil {
			t.Fatalf("EnsureLocal() error = %v", err)
		}
		if got != want {
			t.Errorf("EnsureLocal() = %q, want %q", got, want)
		}
		if n := remote.count("exists") + remote.count("download"); n != 0 {
			t.Errorf("remote calls = %d, want 0", n)
		}
	})

	t.Run("downloads when only remote has it", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)
		remote.put(resolver.RemoteKey(key), "remote")

		got, err := m.EnsureLocal(ctx, key)
		if err != nil {
			t.Fatalf("EnsureLocal() error = %v", err)
		}
		data, err := os.ReadFile(got)
		if err != nil {
			t.Fatalf("read downloaded file: %v", err)
		}
		if string(data) != "remote" {
			t.Errorf("content = %q, want %q", data, "remote")
		}

		// second call is served from the cache
		if _, err := m.EnsureLocal(ctx, key); err != nil {
			t.Fatal(err)
		}
		if n := remote.count("download"); n != 1 {
			t.Errorf("downloads = %d, want 1", n)
		}
	})

	t.Run("directory at the key is not a local copy", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)
		if err := os.MkdirAll(resolver.Abs(key), 0o755); err != nil {
			t.Fatal(err)
		}

		_, err := m.EnsureLocal(ctx, key)
		if !errors.Is(err, ErrObjectNotFound) {
			t.Fatalf("EnsureLocal() error = %v, want ErrObjectNotFound", err)
		}
		if n := remote.count("exists"); n != 1 {
			t.Errorf("exists calls = %d, want 1", n)
		}
	})

	t.Run("missing everywhere", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)

		_, err := m.EnsureLocal(ctx, key)
		if !errors.Is(err, ErrObjectNotFound) {
			t.Fatalf("EnsureLocal() error = %v, want ErrObjectNotFound", err)
		}
		if _, statErr := os.Stat(resolver.Abs(key)); !os.IsNotExist(statErr) {
			t.Errorf("local file created for missing object")
		}
	})

	t.Run("transport fault is not not-found", func(t *testing.T) {
		remote := newFakeRemote(t)
		remote.existsErr = errors.New("permission denied")
		m, _ := newTestMirror(t, remote)

		_, err := m.EnsureLocal(ctx, key)
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("EnsureLocal() error = %v, want *TransportError", err)
		}
		if errors.Is(err, ErrObjectNotFound) {
			t.Errorf("transport fault classified as not found")
		}
	})
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	key := paths.PagePDFPath("11223344")

	t.Run("uploads under prefix", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)
		writeLocal(t, resolver, key, "pdf")

		if err := m.Publish(ctx, key); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if _, ok := remote.objects["tenant/"+key]; !ok {
			t.Errorf("object %q not uploaded", "tenant/"+key)
		}
	})

	t.Run("missing file is skipped", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, _ := newTestMirror(t, remote)

		if err := m.Publish(ctx, key); err != nil {
			t.Fatalf("Publish() error = %v, want nil", err)
		}
		if n := remote.count("upload"); n != 0 {
			t.Errorf("uploads = %d, want 0", n)
		}
	})

	t.Run("directory is skipped", func(t *testing.T) {
		remote := newFakeRemote(t)
		m, resolver := newTestMirror(t, remote)
		if err := os.MkdirAll(resolver.Abs(key), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := m.Publish(ctx, key); err != nil {
			t.Fatalf("Publish() error = %v, want nil", err)
		}
		if n := remote.count("upload"); n != 0 {
			t.Errorf("uploads = %d, want 0", n)
		}
	})

	t.Run("upload fault propagates", func(t *testing.T) {
		remote := newFakeRemote(t)
		remote.uploadErr = errors.New("network down")
		m, resolver := newTestMirror(t, remote)
		writeLocal(t, resolver, key, "pdf")

		var terr *TransportError
		if err := m.Publish(ctx, key); !errors.As(err, &terr) {
			t.Fatalf("Publish() error = %v, want *TransportError", err)
		}
	})
}

func TestPublishDir(t *testing.T) {
	remote := newFakeRemote(t)
	m, resolver := newTestMirror(t, remote)
	dir := paths.PagePath("aabbccdd")
	for _, name := range []string{paths.PagePDF, paths.PageTxt, paths.PageJPG} {
		writeLocal(t, resolver, dir+"/"+name, name)
	}
	if err := os.MkdirAll(resolver.Abs(dir+"/nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := m.PublishDir(context.Background(), dir); err != nil {
		t.Fatalf("PublishDir() error = %v", err)
	}
	if n := remote.count("upload"); n != 3 {
		t.Errorf("uploads = %d, want 3", n)
	}
	if _, ok := remote.objects["tenant/"+dir+"/"+paths.PageTxt]; !ok {
		t.Errorf("sidecar not published")
	}
}

func TestNoopMirror(t *testing.T) {
	ctx := context.Background()
	m, resolver := newTestMirror(t, nil)
	key := paths.DocVerPath("abcdef12", "doc.pdf")

	if m.Enabled() {
		t.Fatal("Enabled() = true for nil remote")
	}
	got, err := m.EnsureLocal(ctx, key)
	if err != nil {
		t.Fatalf("EnsureLocal() error = %v", err)
	}
	if got != resolver.Abs(key) {
		t.Errorf("EnsureLocal() = %q, want %q", got, resolver.Abs(key))
	}
	if err := m.Publish(ctx, key); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if ok, err := m.ExistsRemote(ctx, key); ok || err != nil {
		t.Errorf("ExistsRemote() = %v, %v, want false, nil", ok, err)
	}
	if err := m.FetchMany(ctx, []string{key}); err != nil {
		t.Errorf("FetchMany() error = %v", err)
	}
}
