package risk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"geoprobe/internal/shared/httpclient"
)

const samplePage = `<html><body>
<div class="score">Fraud Score: 87</div>
<pre>
{
  "ip":"203.0.113.7",
  "score":"87",
  "risk":"high"
}
</pre>
</body></html>`

func TestParseScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		page  string
		score int
		ok    bool
	}{
		{"pre block", samplePage, 87, true},
		{"script block", `<script>var d = {"score":"12","risk":"low"};</script>`, 12, true},
		{"raw text", `"score":"45","risk":"medium"`, 45, true},
		{"no risk marker", `<pre>{"score":"87"}</pre>`, 0, false},
		{"no score", `<pre>{"risk":"high"}</pre>`, 0, false},
		{"garbage score", `<pre>{"score":"n/a","risk":"high"}</pre>`, 0, false},
		{"empty", ``, 0, false},
	}
	for _, tc := range cases {
		score, ok := ParseScore([]byte(tc.page))
		if ok != tc.ok || score != tc.score {
			t.Errorf("%s: Expected (%d, %v), got (%d, %v)", tc.name, tc.score, tc.ok, score, ok)
		}
	}
}

func TestScore_GoesThroughProxy(t *testing.T) {
	var requested string
	var contentType string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.String()
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(samplePage))
	}))
	defer proxySrv.Close()

	c := New(Options{Endpoint: "http://risk.example/ip/", Timeout: time.Second}, httpclient.New(zerolog.Nop()), zerolog.Nop())
	score, ok, err := c.Score(context.Background(), "203.0.113.7", proxySrv.URL)
	if err != nil {
		t.Fatalf("Score() returned an error: %v", err)
	}
	if !ok || score != 87 {
		t.Errorf("Expected score 87, got %d (ok=%v)", score, ok)
	}
	u, _ := url.Parse(requested)
	if u.Host != "risk.example" || u.Path != "/ip/203.0.113.7" {
		t.Errorf("unexpected proxied request %q", requested)
	}
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type header, got %q", contentType)
	}
}

func TestScore_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL + "/ip/"}, httpclient.New(zerolog.Nop()), zerolog.Nop())
	if _, _, err := c.Score(context.Background(), "203.0.113.7", ""); err == nil {
		t.Errorf("Expected an error for status 403")
	}
	if _, _, err := c.Score(context.Background(), "", ""); err == nil {
		t.Errorf("Expected an error for an empty ip")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limited := New(Options{Endpoint: srv.URL + "/ip/", RatePerSecond: 0.001}, httpclient.New(zerolog.Nop()), zerolog.Nop())
	if _, _, err := limited.Score(ctx, "203.0.113.7", ""); err == nil {
		t.Errorf("Expected a rate limiter error on a cancelled context")
	}
}
