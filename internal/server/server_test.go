package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"issuelab/internal/config"
	"issuelab/internal/domain"
	"issuelab/internal/engine"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/rest",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			APIKeys:                map[string]string{"key-alice": "alice"},
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			e.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

var asAlice = map[string]string{"X-Actor-Id": "alice"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createIssue(t *testing.T, srv *testServer, summary string) domain.Issue {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/rest/api/2/issue", map[string]any{
		"project":   "DEMO",
		"issuetype": "Task",
		"summary":   summary,
	}, asAlice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue status %d: %s", res.StatusCode, string(data))
	}
	var is domain.Issue
	if err := json.Unmarshal(data, &is); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	return is
}

func TestIssueLifecycle(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	is := createIssue(t, srv, "Ship it")
	if is.StatusID != "1" {
		t.Fatalf("new issue status %q, want the initial one", is.StatusID)
	}
	if is.Reporter != "alice" {
		t.Fatalf("reporter defaulted to %q, want the caller", is.Reporter)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/rest/api/2/issue/"+is.Key+"/transitions", map[string]any{
		"transition": map[string]string{"id": "11"},
	}, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition status %d: %s", res.StatusCode, string(data))
	}
	var moved domain.Issue
	_ = json.Unmarshal(data, &moved)
	if moved.StatusID != "2" {
		t.Fatalf("status after transition %q, want In Progress", moved.StatusID)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/rest/api/2/issue/"+is.Key+"/comment", map[string]any{
		"body": "looks good",
	}, asAlice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get issue status %d: %s", res.StatusCode, string(data))
	}
	var fetched domain.Issue
	_ = json.Unmarshal(data, &fetched)
	if len(fetched.Comments) != 1 || len(fetched.Changelog) != 1 {
		t.Fatalf("comments=%d changelog=%d, want 1/1", len(fetched.Comments), len(fetched.Changelog))
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	type envelope struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/DEMO-999", nil, asAlice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing issue status %d: %s", res.StatusCode, string(data))
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Code != "not_found" {
		t.Fatalf("missing issue body: %s (err %v)", string(data), err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/search?jql=status+%21%3D+Done", nil, asAlice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad jql status %d: %s", res.StatusCode, string(data))
	}
	env = envelope{}
	_ = json.Unmarshal(data, &env)
	if env.Code != "query_syntax" || env.Details["clause"] == nil {
		t.Fatalf("bad jql body: %s", string(data))
	}

	is := createIssue(t, srv, "Blocked")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/rest/api/2/issue/"+is.Key+"/transitions", map[string]any{
		"transition": map[string]string{"id": "31"},
	}, asAlice)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("bad transition status %d: %s", res.StatusCode, string(data))
	}
	env = envelope{}
	_ = json.Unmarshal(data, &env)
	if env.Code != "transition_not_allowed" || env.Details["transition"] != "31" {
		t.Fatalf("bad transition body: %s", string(data))
	}
}

func TestRateLimitResponse(t *testing.T) {
	srv := newTestServer(t)
	srv.Engine.Limiter.ForceReject("alice")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/rest/api/2/issue/DEMO-1", nil, asAlice)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var env struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Code != "rate_limited" {
		t.Fatalf("code %q, want rate_limited", env.Code)
	}
	for _, k := range []string{"retry_after", "remaining", "reset_at"} {
		if _, ok := env.Details[k]; !ok {
			t.Fatalf("details missing %q: %s", k, string(data))
		}
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/DEMO-1", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous request status %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/rest/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}

	is := createIssue(t, srv, "For key auth")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, map[string]string{"X-Api-Key": "key-alice"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(data))
	}

	// Keys are matched by digest; the digest itself is not a credential.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, map[string]string{"X-Api-Key": HashAPIKey("key-alice")})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("hashed key accepted as credential: status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown api key status %d", res.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt auth status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/issue/"+is.Key, nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status %d", res.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	createIssue(t, srv, "first")
	createIssue(t, srv, "second")
	createIssue(t, srv, "third")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/rest/api/2/search?jql=project+%3D+DEMO&startAt=1&maxResults=2", nil, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status %d: %s", res.StatusCode, string(data))
	}
	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Total != 3 || len(out.Issues) != 2 || out.StartAt != 1 || out.MaxResults != 2 {
		t.Fatalf("search page: %s", string(data))
	}
}

func TestWebhookRegistrationEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/rest/webhooks", map[string]any{
		"webhooks": []map[string]any{
			{"url": "http://hooks.test/a", "events": []string{"jira:issue_created"}},
			{"url": "not a url", "events": []string{"jira:issue_created"}},
		},
	}, asAlice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Results []engine.WebhookResult `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Results) != 2 || out.Results[0].Webhook == nil || out.Results[1].Error == "" {
		t.Fatalf("results: %s", string(data))
	}
	id := out.Results[0].Webhook.ID

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/rest/webhooks/"+strconv.FormatInt(id, 10), nil, asAlice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/rest/webhooks/"+strconv.FormatInt(id, 10), nil, asAlice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d", res.StatusCode)
	}
}

func TestJitterSettingsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/rest/settings/delivery/jitter", map[string]any{
		"min_ms": 10, "max_ms": 40,
	}, asAlice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set jitter status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/rest/settings/delivery/jitter", map[string]any{
		"min_ms": 40, "max_ms": 10,
	}, asAlice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted range status %d: %s", res.StatusCode, string(data))
	}
}
