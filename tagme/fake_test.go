package tagme_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/tagme/tagme"
)

const sampleStamp = "2017-04-19T09:04:18.434"

// fakeTagMe records every form it receives and answers with reply.
type fakeTagMe struct {
	t     *testing.T
	mu    sync.Mutex
	forms []url.Values
	reply func(form url.Values) (int, any)
}

func newFakeTagMe(t *testing.T, reply func(form url.Values) (int, any)) (*fakeTagMe, *httptest.Server) {
	t.Helper()
	f := &fakeTagMe{t: t, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTagMe) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	f.mu.Unlock()

	status, payload := f.reply(r.PostForm)
	w.WriteHeader(status)
	switch p := payload.(type) {
	case string:
		_, _ = w.Write([]byte(p))
	default:
		_ = json.NewEncoder(w).Encode(p)
	}
}

func (f *fakeTagMe) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forms)
}

func (f *fakeTagMe) form(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[i]
}

// newClient points every endpoint at srv and captures log output in logs.
func newClient(t *testing.T, srv *httptest.Server, token string, logs *bytes.Buffer) *tagme.Client {
	t.Helper()
	cfg := tagme.Config{
		Token:   token,
		TagAPI:  srv.URL + "/tag",
		SpotAPI: srv.URL + "/spot",
		RelAPI:  srv.URL + "/rel",
	}
	if logs != nil {
		cfg.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	client, err := tagme.New(cfg)
	require.NoError(t, err)
	return client
}
