package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "p1/generated/a.jpg", ObjectKey(UploadOptions{ProjectID: "p1", Folder: "/generated/"}, "a.jpg"))
	assert.Equal(t, "a.jpg", ObjectKey(UploadOptions{}, "a.jpg"))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore("https://cdn.test/")
	obj, err := m.Upload(context.Background(), []byte("img"), "a.jpg", UploadOptions{ProjectID: "p1", Folder: "generated"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/p1/generated/a.jpg", obj.PublicURL)
	assert.Equal(t, 3, obj.Size)

	b, ok := m.Get("p1/generated/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "img", string(b))
	assert.Equal(t, []string{"p1/generated/a.jpg"}, m.Keys())

	m.FailWith(errors.New("disk full"))
	_, err = m.Upload(context.Background(), []byte("x"), "b.jpg", UploadOptions{})
	assert.Error(t, err)

	_, err = NewMemoryStore("").Upload(context.Background(), nil, "", UploadOptions{})
	assert.Error(t, err)
}

type fakeS3 struct {
	mu    sync.Mutex
	puts  map[string][]byte
	types map[string]string
	fails int32
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.puts[r.URL.Path] = body
	f.types[r.URL.Path] = r.Header.Get("Content-Type")
	f.mu.Unlock()
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func TestS3Store_Upload(t *testing.T) {
	fake := &fakeS3{puts: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3Store(S3Config{
		Endpoint:  srv.URL,
		Bucket:    "assets",
		AccessKey: "key",
		SecretKey: "secret",
	}, nil)
	require.NoError(t, err)

	obj, err := s.Upload(context.Background(), []byte("jpegdata"), "x.jpg",
		UploadOptions{ProjectID: "p1", Folder: "generated", ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "p1/generated/x.jpg", obj.Key)
	assert.Equal(t, srv.URL+"/assets/p1/generated/x.jpg", obj.PublicURL)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.puts, "/assets/p1/generated/x.jpg")
	assert.Equal(t, "image/jpeg", fake.types["/assets/p1/generated/x.jpg"])
}

func TestS3Store_PublicURL(t *testing.T) {
	s, err := NewS3Store(S3Config{Bucket: "b", Region: "eu-west-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k.png", s.PublicURL("k.png"))

	s, err = NewS3Store(S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/k.png", s.PublicURL("k.png"))

	_, err = NewS3Store(S3Config{}, nil)
	assert.Error(t, err)
}

func TestFetcher(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if atomic.AddInt32(&hits, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte("logo"))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	b, err := f.Fetch(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "logo", string(b))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

type uploadCounter struct {
	mu   sync.Mutex
	seen []string
}

func (c *uploadCounter) RecordUpload(folder string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.seen = append(c.seen, folder+":ok")
	} else {
		c.seen = append(c.seen, folder+":failed")
	}
}

func TestObserved(t *testing.T) {
	mem := NewMemoryStore("")
	counter := &uploadCounter{}
	s := Observed(mem, counter)

	_, err := s.Upload(context.Background(), []byte("a"), "a.jpg", UploadOptions{Folder: "generated"})
	require.NoError(t, err)
	mem.FailWith(errors.New("down"))
	_, err = s.Upload(context.Background(), []byte("b"), "b.jpg", UploadOptions{Folder: "generated"})
	require.Error(t, err)

	assert.Equal(t, []string{"generated:ok", "generated:failed"}, counter.seen)
	assert.Same(t, mem, Observed(mem, nil))
}
