package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/posts_api.yaml
var postsAPISpec []byte

const testAccessToken = "test-access-token"

type recordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Accept        string
	ContentType   string
	Body          []byte
}

// fakeBackend is an in-memory posts REST backend. Every request it receives
// is checked against testdata/posts_api.yaml.
type fakeBackend struct {
	t      *testing.T
	router routers.Router
	srv    *httptest.Server

	mu       sync.Mutex
	posts    []Post
	nextID   int64
	requests []recordedRequest
	failWith int
}

func newFakeBackend(t *testing.T, posts ...Post) *fakeBackend {
	t.Helper()

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(postsAPISpec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	router, err := gorillamux.NewRouter(doc)
	require.NoError(t, err)

	b := &fakeBackend{
		t:      t,
		router: router,
		posts:  append([]Post(nil), posts...),
		nextID: 100,
	}
	b.srv = httptest.NewServer(b)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string {
	return b.srv.URL
}

// failAll makes every subsequent request answer with status.
func (b *fakeBackend) failAll(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = status
}

func (b *fakeBackend) Requests() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.requests...)
}

func (b *fakeBackend) count(method, path string) int {
	n := 0
	for _, req := range b.Requests() {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

func (b *fakeBackend) countMethod(method string) int {
	n := 0
	for _, req := range b.Requests() {
		if req.Method == method {
			n++
		}
	}
	return n
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Accept:        r.Header.Get("Accept"),
		ContentType:   r.Header.Get("Content-Type"),
		Body:          body,
	})
	failWith := b.failWith
	b.mu.Unlock()

	route, params, err := b.router.FindRoute(r)
	if !assert.NoError(b.t, err, "%s %s is not part of the posts API", r.Method, r.URL.Path) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: params,
		Route:      route,
	})
	assert.NoError(b.t, err, "%s %s does not match the posts API", r.Method, r.URL.Path)

	if failWith != 0 {
		http.Error(w, http.StatusText(failWith), failWith)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/posts":
		writeJSON(w, b.posts)
	case r.Method == http.MethodPost && r.URL.Path == "/posts":
		var post Post
		if err := json.Unmarshal(body, &post); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.nextID++
		post.ID = b.nextID
		post.UpdatedAt = NewTimestamp(time.Now().UTC())
		b.posts = append(b.posts, post)
		writeJSON(w, post)
	case strings.HasPrefix(r.URL.Path, "/posts/"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/posts/"), 10, 64)
		b.handleOne(w, r, id, body)
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) handleOne(w http.ResponseWriter, r *http.Request, id int64, body []byte) {
	for i, p := range b.posts {
		if p.ID != id {
			continue
		}
		switch r.Method {
		case http.MethodPut:
			var post Post
			if err := json.Unmarshal(body, &post); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			post.ID = id
			post.UpdatedAt = NewTimestamp(time.Now().UTC())
			b.posts[i] = post
			writeJSON(w, post)
		case http.MethodDelete:
			b.posts = append(b.posts[:i], b.posts[i+1:]...)
			writeJSON(w, map[string]any{})
		}
		return
	}
	http.Error(w, fmt.Sprintf("post %d not found", id), http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func staticTokens(token string) TokenSource {
	return TokenFunc(func(ctx context.Context) (string, error) {
		return token, nil
	})
}

func mustTime(t *testing.T, s string) *Timestamp {
	t.Helper()
	var ts Timestamp
	require.NoError(t, ts.UnmarshalJSON([]byte(`"`+s+`"`)))
	return &ts
}
