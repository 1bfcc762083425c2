package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

func TestRecorder_RecordThenReplay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"c1"}]`)
	}))
	defer upstream.Close()

	path := filepath.Join(t.TempDir(), "roundtrip")
	get := func(r *recorder.Recorder) string {
		req, _ := http.NewRequest(http.MethodGet, upstream.URL+"/rest/v1/contacts?limit=1", nil)
		req.Header.Set("Apikey", "secret-key")
		req.Header.Set("Authorization", "Bearer secret-key")
		resp, err := VCRHTTPClient(r).Do(req)
		if err != nil {
			t.Fatalf("request error = %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	rec, stop := openRecorder(t, path, recorder.ModeRecording)
	if got := get(rec); got != `[{"id":"c1"}]` {
		t.Fatalf("recorded body = %q", got)
	}
	stop()

	raw, err := os.ReadFile(path + ".yaml")
	if err != nil {
		t.Fatalf("read cassette: %v", err)
	}
	if strings.Contains(string(raw), "secret-key") {
		t.Errorf("credentials written to cassette:\n%s", raw)
	}

	upstream.Close()
	rec, stop = openRecorder(t, path, recorder.ModeReplaying)
	defer stop()
	if got := get(rec); got != `[{"id":"c1"}]` {
		t.Errorf("replayed body = %q", got)
	}
}

func TestFixtures_HaveNoCredentials(t *testing.T) {
	matches, _ := filepath.Glob(filepath.Join("..", "*", "testdata", "fixtures", "*.yaml"))
	for _, m := range matches {
		raw, err := os.ReadFile(m)
		if err != nil {
			t.Fatalf("read %s: %v", m, err)
		}
		for _, h := range redactedHeaders {
			if strings.Contains(string(raw), h+":") {
				t.Errorf("%s contains %s header", m, h)
			}
		}
	}
}
