// Package engine is the facade the outer surfaces call. Every operation
// runs admission control first, then the store mutation or query, and
// for publishable facts hands a snapshot to the event bus. The caller
// never waits on webhook delivery.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"issuelab/internal/config"
	"issuelab/internal/dispatch"
	"issuelab/internal/domain"
	"issuelab/internal/jql"
	"issuelab/internal/ledger"
	"issuelab/internal/ratelimit"
	"issuelab/internal/store"
)

const defaultMaxResults = 50

type Engine struct {
	Store   *store.Store
	Ledger  *ledger.Ledger
	Bus     *dispatch.Dispatcher
	Limiter *ratelimit.Limiter
	Config  *config.Config
	Now     func() time.Time
	Logger  *log.Logger
}

// New wires a complete engine from config: seeded store, in-memory
// ledger, delivery worker pool and admission controller.
func New(cfg *config.Config) (Engine, error) {
	now := func() time.Time { return time.Now().UTC() }
	l, err := ledger.Open()
	if err != nil {
		return Engine{}, err
	}
	bus := dispatch.New(l, dispatch.Options{
		Workers:       cfg.Delivery.Workers,
		QueueSize:     cfg.Delivery.QueueSize,
		JitterMin:     time.Duration(cfg.Delivery.JitterMinMS) * time.Millisecond,
		JitterMax:     time.Duration(cfg.Delivery.JitterMaxMS) * time.Millisecond,
		DedupCapacity: cfg.Delivery.DedupCapacity,
		Now:           now,
	})
	return Engine{
		Store:   store.New(cfg.Seed, now),
		Ledger:  l,
		Bus:     bus,
		Limiter: ratelimit.New(cfg.Limits.Budget, time.Duration(cfg.Limits.WindowSeconds)*time.Second),
		Config:  cfg,
		Now:     now,
		Logger:  log.Default(),
	}, nil
}

// Close stops delivery workers and releases the ledger.
func (e Engine) Close() error {
	if e.Bus != nil {
		e.Bus.Close()
	}
	if e.Ledger != nil {
		return e.Ledger.Close()
	}
	return nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e Engine) admit(credential string, op Op) error {
	return e.Limiter.Admit(credential, op.Cost())
}

// publish appends the fact to the audit log and fans it out to active
// registrations. The payload is marshaled exactly once here; delivery
// failures stay internal to the bus and never reach the caller.
func (e Engine) publish(ctx context.Context, eventType string, body map[string]any) {
	ts := e.now()
	body["webhookEvent"] = eventType
	body["timestamp"] = ts.UnixMilli()
	payload, err := json.Marshal(body)
	if err != nil {
		e.logger().Printf("engine: marshal %s event: %v", eventType, err)
		return
	}
	evt := domain.Event{ID: uuid.NewString(), Type: eventType, Payload: payload, TS: ts}
	if err := e.Bus.Publish(ctx, &evt, e.Store.ActiveWebhooks()); err != nil {
		e.logger().Printf("engine: publish %s: %v", eventType, err)
	}
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// --- issues ---

func (e Engine) CreateIssue(ctx context.Context, credential string, opts store.IssueCreateOptions) (domain.Issue, error) {
	if err := e.admit(credential, OpCreateIssue); err != nil {
		return domain.Issue{}, err
	}
	is, err := e.Store.CreateIssue(opts)
	if err != nil {
		return domain.Issue{}, err
	}
	e.publish(ctx, domain.EventIssueCreated, map[string]any{"issue": is})
	return is, nil
}

func (e Engine) GetIssue(ctx context.Context, credential, key string) (domain.Issue, error) {
	if err := e.admit(credential, OpGetIssue); err != nil {
		return domain.Issue{}, err
	}
	return e.Store.GetIssue(key)
}

func (e Engine) UpdateIssue(ctx context.Context, credential, key string, opts store.IssueUpdateOptions, actor string) (domain.Issue, error) {
	if err := e.admit(credential, OpUpdateIssue); err != nil {
		return domain.Issue{}, err
	}
	is, err := e.Store.UpdateIssue(key, opts, actor)
	if err != nil {
		return domain.Issue{}, err
	}
	e.publish(ctx, domain.EventIssueUpdated, map[string]any{"issue": is})
	return is, nil
}

func (e Engine) ApplyTransition(ctx context.Context, credential, key, transitionID, actor string) (domain.Issue, error) {
	if err := e.admit(credential, OpApplyTransition); err != nil {
		return domain.Issue{}, err
	}
	is, err := e.Store.ApplyTransition(key, transitionID, actor)
	if err != nil {
		return domain.Issue{}, err
	}
	e.publish(ctx, domain.EventIssueUpdated, map[string]any{"issue": is})
	return is, nil
}

func (e Engine) ListTransitions(ctx context.Context, credential, key string) ([]domain.Transition, error) {
	if err := e.admit(credential, OpListTransitions); err != nil {
		return nil, err
	}
	return e.Store.TransitionsFor(key)
}

func (e Engine) AddComment(ctx context.Context, credential, key, author string, body any) (domain.Comment, error) {
	if err := e.admit(credential, OpAddComment); err != nil {
		return domain.Comment{}, err
	}
	c, is, err := e.Store.AddComment(key, author, body)
	if err != nil {
		return domain.Comment{}, err
	}
	e.publish(ctx, domain.EventCommentCreated, map[string]any{"issue": is, "comment": c})
	return c, nil
}

func (e Engine) CreateLink(ctx context.Context, credential, typeName, leftKey, rightKey string) (int64, error) {
	if err := e.admit(credential, OpCreateLink); err != nil {
		return 0, err
	}
	id, err := e.Store.CreateLink(typeName, leftKey, rightKey)
	if err != nil {
		return 0, err
	}
	if is, err := e.Store.GetIssue(leftKey); err == nil {
		e.publish(ctx, domain.EventIssueUpdated, map[string]any{"issue": is})
	}
	return id, nil
}

// --- search ---

// Search parses and evaluates a filter string against a snapshot of all
// issues. A bare currentUser() in assignee/reporter clauses is resolved
// to caller before evaluation; the query engine itself never sees the
// caller identity.
func (e Engine) Search(ctx context.Context, credential, filter, caller string, startAt, maxResults int) ([]domain.Issue, int, error) {
	if err := e.admit(credential, OpSearch); err != nil {
		return nil, 0, err
	}
	q, err := jql.Parse(filter)
	if err != nil {
		return nil, 0, err
	}
	for ci := range q.Clauses {
		c := &q.Clauses[ci]
		if c.Field != "assignee" && c.Field != "reporter" {
			continue
		}
		for vi, v := range c.Values {
			if v == jql.CurrentUser {
				c.Values[vi] = caller
			}
		}
	}
	matched := jql.Evaluate(e.Store.SnapshotIssues(), q, jql.EvalOptions{
		StatusNames: e.Store.StatusNames(),
		TypeNames:   e.Store.TypeNames(),
	})
	total := len(matched)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if startAt < 0 {
		startAt = 0
	}
	if startAt > total {
		startAt = total
	}
	end := startAt + maxResults
	if end > total {
		end = total
	}
	return matched[startAt:end], total, nil
}

// --- boards, sprints, requests ---

func (e Engine) CreateBoard(ctx context.Context, credential, projectKey, boardType string) (domain.Board, error) {
	if err := e.admit(credential, OpCreateBoard); err != nil {
		return domain.Board{}, err
	}
	return e.Store.CreateBoard(projectKey, boardType)
}

func (e Engine) CreateSprint(ctx context.Context, credential string, boardID int64, name, goal string, start, end time.Time) (domain.Sprint, error) {
	if err := e.admit(credential, OpCreateSprint); err != nil {
		return domain.Sprint{}, err
	}
	sp, err := e.Store.CreateSprint(boardID, name, goal, start, end)
	if err != nil {
		return domain.Sprint{}, err
	}
	e.publish(ctx, domain.EventSprintCreated, map[string]any{"sprint": sp, "state": sp.State(e.now())})
	return sp, nil
}

func (e Engine) MoveIssuesToSprint(ctx context.Context, credential string, sprintID int64, keys []string) ([]domain.Issue, error) {
	if err := e.admit(credential, OpMoveToSprint); err != nil {
		return nil, err
	}
	moved, err := e.Store.MoveIssuesToSprint(sprintID, keys)
	if err != nil {
		return nil, err
	}
	for _, is := range moved {
		e.publish(ctx, domain.EventIssueUpdated, map[string]any{"issue": is})
	}
	return moved, nil
}

func (e Engine) SprintIssues(ctx context.Context, credential string, sprintID int64) ([]domain.Issue, error) {
	if err := e.admit(credential, OpGetIssue); err != nil {
		return nil, err
	}
	return e.Store.SprintIssues(sprintID)
}

func (e Engine) CreateServiceRequest(ctx context.Context, credential, issueKey string) (domain.ServiceRequest, error) {
	if err := e.admit(credential, OpCreateServiceRequest); err != nil {
		return domain.ServiceRequest{}, err
	}
	return e.Store.CreateServiceRequest(issueKey)
}

func (e Engine) AnswerApproval(ctx context.Context, credential string, requestID int64, approver, decision string) (domain.ServiceRequest, error) {
	if err := e.admit(credential, OpAnswerApproval); err != nil {
		return domain.ServiceRequest{}, err
	}
	r, err := e.Store.AnswerApproval(requestID, approver, decision)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if is, err := e.Store.GetIssue(r.IssueKey); err == nil {
		e.publish(ctx, domain.EventIssueUpdated, map[string]any{"issue": is, "request": r})
	}
	return r, nil
}

// --- webhooks and deliveries ---

// WebhookInput is one entry of a batch registration call.
type WebhookInput struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Filter string   `json:"jql_filter,omitempty"`
	Secret string   `json:"secret,omitempty"`
}

// WebhookResult carries the per-item outcome: either the created
// registration or a failure reason. One malformed entry never aborts
// its siblings.
type WebhookResult struct {
	Webhook *domain.WebhookRegistration `json:"webhook,omitempty"`
	Error   string                      `json:"error,omitempty"`
}

func (e Engine) RegisterWebhooks(ctx context.Context, credential string, inputs []WebhookInput) ([]WebhookResult, error) {
	if err := e.admit(credential, OpRegisterWebhook); err != nil {
		return nil, err
	}
	out := make([]WebhookResult, 0, len(inputs))
	for _, in := range inputs {
		w, err := e.Store.RegisterWebhook(in.URL, in.Events, in.Filter, in.Secret)
		if err != nil {
			out = append(out, WebhookResult{Error: err.Error()})
			continue
		}
		out = append(out, WebhookResult{Webhook: &w})
	}
	return out, nil
}

func (e Engine) DeleteWebhook(ctx context.Context, credential string, id int64) error {
	if err := e.admit(credential, OpDeleteWebhook); err != nil {
		return err
	}
	return e.Store.DeleteWebhook(id)
}

func (e Engine) ListWebhooks(ctx context.Context, credential string) ([]domain.WebhookRegistration, error) {
	if err := e.admit(credential, OpListWebhooks); err != nil {
		return nil, err
	}
	return e.Store.ListWebhooks(), nil
}

func (e Engine) ListDeliveries(ctx context.Context, credential string, webhookID int64, limit int) ([]domain.DeliveryRecord, error) {
	if err := e.admit(credential, OpListDeliveries); err != nil {
		return nil, err
	}
	return e.Ledger.ListDeliveries(webhookID, limit)
}

func (e Engine) GetDelivery(ctx context.Context, credential string, id int64) (domain.DeliveryRecord, error) {
	if err := e.admit(credential, OpListDeliveries); err != nil {
		return domain.DeliveryRecord{}, err
	}
	return e.Ledger.GetDelivery(id)
}

// ReplayDelivery schedules a fresh attempt from the snapshot recorded on
// an existing delivery, bypassing deduplication.
func (e Engine) ReplayDelivery(ctx context.Context, credential string, id int64) (domain.DeliveryRecord, error) {
	if err := e.admit(credential, OpReplayDelivery); err != nil {
		return domain.DeliveryRecord{}, err
	}
	return e.Bus.Replay(ctx, id)
}

func (e Engine) ListEvents(ctx context.Context, credential string, afterSeq int64, limit int) ([]domain.Event, error) {
	if err := e.admit(credential, OpListEvents); err != nil {
		return nil, err
	}
	return e.Ledger.ListEvents(afterSeq, limit)
}

// SetJitterRange adjusts the delivery pre-send delay at runtime.
func (e Engine) SetJitterRange(min, max time.Duration) error {
	return e.Bus.SetJitterRange(min, max)
}
