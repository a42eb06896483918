package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"issuelab/internal/config"
	"issuelab/internal/domain"
	"issuelab/internal/engine"
	"issuelab/internal/ratelimit"
	"issuelab/internal/store"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	eng, err := engine.New(config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreate(t *testing.T, env testEnv, opts store.IssueCreateOptions) domain.Issue {
	t.Helper()
	is, err := env.Engine.CreateIssue(env.Ctx, "cred", opts)
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return is
}

func TestSearchResolvesCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "mine", Reporter: "alice", Assignee: "bob"})
	mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "theirs", Reporter: "alice", Assignee: "carol"})

	issues, total, err := env.Engine.Search(env.Ctx, "cred", "assignee = currentUser()", "bob", 0, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(issues) != 1 || issues[0].Assignee != "bob" {
		t.Fatalf("currentUser() not resolved: total=%d issues=%+v", total, issues)
	}
}

func TestSearchDefaultOrderReflectsActivity(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "A", Reporter: "alice"})
	b := mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "B", Reporter: "alice"})
	// Commenting on B bumps its updated past A's.
	if _, err := env.Engine.AddComment(env.Ctx, "cred", b.Key, "alice", "ping"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	issues, _, err := env.Engine.Search(env.Ctx, "cred", "project = DEMO", "alice", 0, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(issues) != 2 || issues[0].Key != b.Key || issues[1].Key != a.Key {
		t.Fatalf("default order wrong: %v", keysOf(issues))
	}
}

func keysOf(issues []domain.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Key
	}
	return out
}

func TestSearchPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "n", Reporter: "alice"})
	}
	issues, total, err := env.Engine.Search(env.Ctx, "cred", "project = DEMO", "alice", 2, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 5 || len(issues) != 2 {
		t.Fatalf("total=%d page=%d, want 5/2", total, len(issues))
	}
	// Page past the end clamps to empty.
	issues, total, err = env.Engine.Search(env.Ctx, "cred", "project = DEMO", "alice", 10, 2)
	if err != nil || total != 5 || len(issues) != 0 {
		t.Fatalf("overrun page: total=%d len=%d err=%v", total, len(issues), err)
	}
}

func TestOperationsAreGatedByAdmission(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Limiter = ratelimit.New(5, time.Minute)

	// First search eats the whole budget.
	if _, _, err := env.Engine.Search(env.Ctx, "cred", "project = DEMO", "alice", 0, 0); err != nil {
		t.Fatalf("first search: %v", err)
	}
	var le *ratelimit.LimitError
	if _, _, err := env.Engine.Search(env.Ctx, "cred", "project = DEMO", "alice", 0, 0); !errors.As(err, &le) {
		t.Fatalf("second search: want LimitError, got %v", err)
	}
	if _, err := env.Engine.CreateIssue(env.Ctx, "cred", store.IssueCreateOptions{
		Project: "DEMO", Type: "Task", Summary: "x", Reporter: "alice",
	}); !errors.As(err, &le) {
		t.Fatalf("mutation after exhaustion: want LimitError, got %v", err)
	}
	// A different credential is unaffected.
	if _, _, err := env.Engine.Search(env.Ctx, "other", "project = DEMO", "alice", 0, 0); err != nil {
		t.Fatalf("other credential: %v", err)
	}
}

func TestOperationCosts(t *testing.T) {
	cases := []struct {
		op   engine.Op
		want int
	}{
		{engine.OpSearch, 5},
		{engine.OpCreateIssue, 2},
		{engine.OpApplyTransition, 2},
		{engine.OpReplayDelivery, 2},
		{engine.OpGetIssue, 1},
		{engine.OpListEvents, 1},
	}
	for _, tc := range cases {
		if got := tc.op.Cost(); got != tc.want {
			t.Fatalf("cost of %d = %d, want %d", tc.op, got, tc.want)
		}
	}
}

func TestBatchWebhookRegistrationIsPerItem(t *testing.T) {
	env := newTestEnv(t)
	results, err := env.Engine.RegisterWebhooks(env.Ctx, "cred", []engine.WebhookInput{
		{URL: "http://a.test/hook", Events: []string{domain.EventIssueCreated}},
		{URL: "not a url", Events: []string{domain.EventIssueCreated}},
		{URL: "http://c.test/hook", Events: []string{domain.EventCommentCreated}, Secret: "s"},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Webhook == nil || results[0].Error != "" {
		t.Fatalf("first entry should succeed: %+v", results[0])
	}
	if results[1].Webhook != nil || results[1].Error == "" {
		t.Fatalf("second entry should fail: %+v", results[1])
	}
	if results[2].Webhook == nil {
		t.Fatalf("malformed sibling aborted a valid entry: %+v", results[2])
	}
	hooks, err := env.Engine.ListWebhooks(env.Ctx, "cred")
	if err != nil || len(hooks) != 2 {
		t.Fatalf("webhooks stored: %d, want 2 (%v)", len(hooks), err)
	}
}

func TestEveryMutationIsAudited(t *testing.T) {
	env := newTestEnv(t)
	is := mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "audit", Reporter: "alice"})
	if _, err := env.Engine.ApplyTransition(env.Ctx, "cred", is.Key, "11", "alice"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, "cred", is.Key, "alice", "hello"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	// No webhook is registered, yet the audit trail is complete.
	events, err := env.Engine.ListEvents(env.Ctx, "cred", 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	wantTypes := []string{domain.EventIssueCreated, domain.EventIssueUpdated, domain.EventCommentCreated}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d", len(events), len(wantTypes))
	}
	for i, w := range wantTypes {
		if events[i].Type != w {
			t.Fatalf("event %d type = %s, want %s", i, events[i].Type, w)
		}
	}
	recs, err := env.Engine.ListDeliveries(env.Ctx, "cred", 0, 0)
	if err != nil || len(recs) != 0 {
		t.Fatalf("deliveries without subscribers: %d (%v)", len(recs), err)
	}
}

func TestTransitionErrorsPassThrough(t *testing.T) {
	env := newTestEnv(t)
	is := mustCreate(t, env, store.IssueCreateOptions{Project: "DEMO", Type: "Task", Summary: "x", Reporter: "alice"})
	var te *store.TransitionError
	if _, err := env.Engine.ApplyTransition(env.Ctx, "cred", is.Key, "31", "alice"); !errors.As(err, &te) {
		t.Fatalf("want TransitionError, got %v", err)
	}
	if _, err := env.Engine.GetIssue(env.Ctx, "cred", "DEMO-999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
