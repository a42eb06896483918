// Package store is the single source of truth for all tracker entities.
// Everything lives in memory behind one mutex; callers get defensive
// copies and never see internal pointers.
package store

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"issuelab/internal/config"
	"issuelab/internal/domain"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[string]domain.User
	projects    map[string]domain.Project
	categories  map[string]domain.StatusCategory
	statuses    map[string]domain.Status
	transitions map[string][]domain.Transition // keyed by origin status id
	issueTypes  map[string]domain.IssueType
	linkTypes   map[string]domain.LinkType

	initialStatus string

	issues   map[string]*domain.Issue
	issueSeq map[string]int64 // per-project key counter

	sprints        map[int64]*domain.Sprint
	boards         map[int64]*domain.Board
	requests       map[int64]*domain.ServiceRequest
	requestByIssue map[string]int64
	webhooks       map[int64]*domain.WebhookRegistration

	commentSeq  int64
	linkSeq     int64
	changeSeq   int64
	sprintSeq   int64
	boardSeq    int64
	requestSeq  int64
	approvalSeq int64
	webhookSeq  int64
}

// New builds a store seeded from cfg. The clock is injected so tests can
// control timestamps.
func New(seed config.Seed, now func() time.Time) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Store{
		now:            now,
		users:          make(map[string]domain.User),
		projects:       make(map[string]domain.Project),
		categories:     make(map[string]domain.StatusCategory),
		statuses:       make(map[string]domain.Status),
		transitions:    make(map[string][]domain.Transition),
		issueTypes:     make(map[string]domain.IssueType),
		linkTypes:      make(map[string]domain.LinkType),
		initialStatus:  seed.InitialStatus,
		issues:         make(map[string]*domain.Issue),
		issueSeq:       make(map[string]int64),
		sprints:        make(map[int64]*domain.Sprint),
		boards:         make(map[int64]*domain.Board),
		requests:       make(map[int64]*domain.ServiceRequest),
		requestByIssue: make(map[string]int64),
		webhooks:       make(map[int64]*domain.WebhookRegistration),
	}
	for _, u := range seed.Users {
		s.users[u.AccountID] = domain.User{
			AccountID:   u.AccountID,
			DisplayName: u.DisplayName,
			Email:       u.Email,
			Active:      true,
		}
	}
	for _, p := range seed.Projects {
		s.projects[p.Key] = domain.Project{Key: p.Key, Name: p.Name, Type: p.Type, LeadID: p.Lead}
	}
	for _, c := range seed.Categories {
		s.categories[c.Key] = domain.StatusCategory{Key: c.Key, Name: c.Name}
	}
	for _, st := range seed.Statuses {
		s.statuses[st.ID] = domain.Status{ID: st.ID, Name: st.Name, Category: st.Category}
	}
	for _, t := range seed.Transitions {
		s.transitions[t.From] = append(s.transitions[t.From], domain.Transition{ID: t.ID, Name: t.Name, From: t.From, To: t.To})
	}
	for _, it := range seed.IssueTypes {
		s.issueTypes[it.ID] = domain.IssueType{ID: it.ID, Name: it.Name}
	}
	for _, lt := range seed.LinkTypes {
		s.linkTypes[strings.ToLower(lt.Name)] = domain.LinkType{Name: lt.Name, Inward: lt.Inward, Outward: lt.Outward}
	}
	return s
}

// touch bumps an issue's updated timestamp, keeping it strictly greater
// than the previous value even when the clock has not advanced.
func (s *Store) touch(is *domain.Issue) {
	now := s.now()
	if !now.After(is.Updated) {
		now = is.Updated.Add(time.Nanosecond)
	}
	is.Updated = now
}

// --- issues ---

type IssueCreateOptions struct {
	Project     string
	Type        string
	Summary     string
	Description any
	Reporter    string
	Assignee    string
	Labels      []string
	Fields      map[string]any
}

func (s *Store) CreateIssue(opts IssueCreateOptions) (domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, ok := s.projects[opts.Project]
	if !ok {
		return domain.Issue{}, &ValidationError{Field: "project", Reason: fmt.Sprintf("unknown project %q", opts.Project)}
	}
	it, ok := s.resolveIssueType(opts.Type)
	if !ok {
		return domain.Issue{}, &ValidationError{Field: "issuetype", Reason: fmt.Sprintf("unknown issue type %q", opts.Type)}
	}
	if strings.TrimSpace(opts.Summary) == "" {
		return domain.Issue{}, &ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	if _, ok := s.users[opts.Reporter]; !ok {
		return domain.Issue{}, &ValidationError{Field: "reporter", Reason: fmt.Sprintf("unknown user %q", opts.Reporter)}
	}
	if opts.Assignee != "" {
		if _, ok := s.users[opts.Assignee]; !ok {
			return domain.Issue{}, &ValidationError{Field: "assignee", Reason: fmt.Sprintf("unknown user %q", opts.Assignee)}
		}
	}

	s.issueSeq[proj.Key]++
	key := fmt.Sprintf("%s-%d", proj.Key, s.issueSeq[proj.Key])
	now := s.now()
	is := &domain.Issue{
		Key:         key,
		ProjectKey:  proj.Key,
		Type:        it.ID,
		Summary:     opts.Summary,
		Description: opts.Description,
		StatusID:    s.initialStatus,
		Reporter:    opts.Reporter,
		Assignee:    opts.Assignee,
		Labels:      append([]string(nil), opts.Labels...),
		Fields:      cloneFields(opts.Fields),
		Created:     now,
		Updated:     now,
	}
	s.issues[key] = is
	return cloneIssue(is), nil
}

func (s *Store) GetIssue(key string) (domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return domain.Issue{}, ErrNotFound
	}
	return cloneIssue(is), nil
}

type IssueUpdateOptions struct {
	Summary     *string
	Description *any
	Assignee    *string
	Labels      *[]string
	Fields      map[string]any
}

// UpdateIssue applies the non-nil fields of opts. An assignee change
// appends a changelog entry; every applied change bumps updated. All
// inputs are validated before any field is written, so a rejected
// update leaves the issue untouched.
func (s *Store) UpdateIssue(key string, opts IssueUpdateOptions, actor string) (domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return domain.Issue{}, ErrNotFound
	}
	if opts.Summary != nil && strings.TrimSpace(*opts.Summary) == "" {
		return domain.Issue{}, &ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	if opts.Assignee != nil && *opts.Assignee != "" {
		if _, ok := s.users[*opts.Assignee]; !ok {
			return domain.Issue{}, &ValidationError{Field: "assignee", Reason: fmt.Sprintf("unknown user %q", *opts.Assignee)}
		}
	}
	if opts.Summary != nil {
		is.Summary = *opts.Summary
	}
	if opts.Description != nil {
		is.Description = *opts.Description
	}
	if opts.Assignee != nil && *opts.Assignee != is.Assignee {
		next := *opts.Assignee
		s.changeSeq++
		is.Changelog = append(is.Changelog, domain.ChangelogEntry{
			ID:         s.changeSeq,
			Field:      "assignee",
			From:       is.Assignee,
			FromString: s.userName(is.Assignee),
			To:         next,
			ToString:   s.userName(next),
			Author:     actor,
			Created:    s.now(),
		})
		is.Assignee = next
	}
	if opts.Labels != nil {
		is.Labels = append([]string(nil), (*opts.Labels)...)
	}
	for k, v := range opts.Fields {
		if is.Fields == nil {
			is.Fields = make(map[string]any)
		}
		is.Fields[k] = v
	}
	s.touch(is)
	return cloneIssue(is), nil
}

// ApplyTransition moves an issue along a workflow edge outbound from its
// current status, recording ids and display names in the changelog.
func (s *Store) ApplyTransition(key, transitionID, actor string) (domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return domain.Issue{}, ErrNotFound
	}
	var tr *domain.Transition
	for i := range s.transitions[is.StatusID] {
		if s.transitions[is.StatusID][i].ID == transitionID {
			tr = &s.transitions[is.StatusID][i]
			break
		}
	}
	if tr == nil {
		return domain.Issue{}, &TransitionError{
			IssueKey:     key,
			TransitionID: transitionID,
			StatusName:   s.statuses[is.StatusID].Name,
		}
	}
	s.changeSeq++
	is.Changelog = append(is.Changelog, domain.ChangelogEntry{
		ID:         s.changeSeq,
		Field:      "status",
		From:       is.StatusID,
		FromString: s.statuses[is.StatusID].Name,
		To:         tr.To,
		ToString:   s.statuses[tr.To].Name,
		Author:     actor,
		Created:    s.now(),
	})
	is.StatusID = tr.To
	s.touch(is)
	return cloneIssue(is), nil
}

// TransitionsFor lists the transitions available from an issue's
// current status.
func (s *Store) TransitionsFor(key string) ([]domain.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]domain.Transition(nil), s.transitions[is.StatusID]...), nil
}

func (s *Store) AddComment(key, author string, body any) (domain.Comment, domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[key]
	if !ok {
		return domain.Comment{}, domain.Issue{}, ErrNotFound
	}
	if _, ok := s.users[author]; !ok {
		return domain.Comment{}, domain.Issue{}, &ValidationError{Field: "author", Reason: fmt.Sprintf("unknown user %q", author)}
	}
	s.commentSeq++
	c := domain.Comment{ID: s.commentSeq, Author: author, Body: body, Created: s.now()}
	is.Comments = append(is.Comments, c)
	s.touch(is)
	return c, cloneIssue(is), nil
}

// CreateLink allocates one shared link id and appends reciprocal entries
// to both issues: the left side sees the outward phrasing, the right side
// the inward one.
func (s *Store) CreateLink(typeName, leftKey, rightKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lt, ok := s.linkTypes[strings.ToLower(typeName)]
	if !ok {
		return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown link type %q", typeName)}
	}
	if leftKey == rightKey {
		return 0, &ValidationError{Field: "issues", Reason: "cannot link an issue to itself"}
	}
	left, ok := s.issues[leftKey]
	if !ok {
		return 0, ErrNotFound
	}
	right, ok := s.issues[rightKey]
	if !ok {
		return 0, ErrNotFound
	}
	s.linkSeq++
	id := s.linkSeq
	left.Links = append(left.Links, domain.IssueLink{ID: id, Type: lt, Direction: "outward", OtherKey: rightKey})
	right.Links = append(right.Links, domain.IssueLink{ID: id, Type: lt, Direction: "inward", OtherKey: leftKey})
	s.touch(left)
	s.touch(right)
	return id, nil
}

// SnapshotIssues returns a copy of every issue for the query engine.
func (s *Store) SnapshotIssues() []domain.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Issue, 0, len(s.issues))
	for _, is := range s.issues {
		out = append(out, cloneIssue(is))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// --- boards and sprints ---

func (s *Store) CreateBoard(projectKey, boardType string) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectKey]; !ok {
		return domain.Board{}, &ValidationError{Field: "project", Reason: fmt.Sprintf("unknown project %q", projectKey)}
	}
	if boardType == "" {
		boardType = "scrum"
	}
	s.boardSeq++
	b := &domain.Board{ID: s.boardSeq, ProjectKey: projectKey, Type: boardType}
	s.boards[b.ID] = b
	return *b, nil
}

func (s *Store) GetBoard(id int64) (domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	if !ok {
		return domain.Board{}, ErrNotFound
	}
	return *b, nil
}

func (s *Store) CreateSprint(boardID int64, name, goal string, start, end time.Time) (domain.Sprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; !ok {
		return domain.Sprint{}, &ValidationError{Field: "board_id", Reason: fmt.Sprintf("unknown board %d", boardID)}
	}
	if strings.TrimSpace(name) == "" {
		return domain.Sprint{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !end.After(start) {
		return domain.Sprint{}, &ValidationError{Field: "end", Reason: "must be after start"}
	}
	s.sprintSeq++
	sp := &domain.Sprint{ID: s.sprintSeq, BoardID: boardID, Name: name, Goal: goal, Start: start, End: end}
	s.sprints[sp.ID] = sp
	return *sp, nil
}

func (s *Store) GetSprint(id int64) (domain.Sprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.sprints[id]
	if !ok {
		return domain.Sprint{}, ErrNotFound
	}
	return *sp, nil
}

// MoveIssuesToSprint assigns every named issue to the sprint. All keys
// are checked before any issue is touched, so the move is all-or-nothing.
func (s *Store) MoveIssuesToSprint(sprintID int64, keys []string) ([]domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sprints[sprintID]; !ok {
		return nil, ErrNotFound
	}
	for _, k := range keys {
		if _, ok := s.issues[k]; !ok {
			return nil, ErrNotFound
		}
	}
	out := make([]domain.Issue, 0, len(keys))
	for _, k := range keys {
		is := s.issues[k]
		is.SprintID = sprintID
		s.touch(is)
		out = append(out, cloneIssue(is))
	}
	return out, nil
}

// SprintIssues returns the issues currently assigned to a sprint.
func (s *Store) SprintIssues(sprintID int64) ([]domain.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sprints[sprintID]; !ok {
		return nil, ErrNotFound
	}
	var out []domain.Issue
	for _, is := range s.issues {
		if is.SprintID == sprintID {
			out = append(out, cloneIssue(is))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// --- service requests ---

func (s *Store) CreateServiceRequest(issueKey string) (domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issues[issueKey]
	if !ok {
		return domain.ServiceRequest{}, ErrNotFound
	}
	if s.projects[is.ProjectKey].Type != "service_desk" {
		return domain.ServiceRequest{}, &ValidationError{Field: "issue_key", Reason: fmt.Sprintf("project %s is not a service desk", is.ProjectKey)}
	}
	if _, ok := s.requestByIssue[issueKey]; ok {
		return domain.ServiceRequest{}, &ValidationError{Field: "issue_key", Reason: fmt.Sprintf("issue %s already has a request", issueKey)}
	}
	s.requestSeq++
	r := &domain.ServiceRequest{ID: s.requestSeq, IssueKey: issueKey, Created: s.now()}
	s.requests[r.ID] = r
	s.requestByIssue[issueKey] = r.ID
	return cloneRequest(r), nil
}

func (s *Store) GetServiceRequest(id int64) (domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, ErrNotFound
	}
	return cloneRequest(r), nil
}

func (s *Store) AnswerApproval(requestID int64, approver, decision string) (domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return domain.ServiceRequest{}, ErrNotFound
	}
	if _, ok := s.users[approver]; !ok {
		return domain.ServiceRequest{}, &ValidationError{Field: "approver", Reason: fmt.Sprintf("unknown user %q", approver)}
	}
	if decision != "approved" && decision != "declined" {
		return domain.ServiceRequest{}, &ValidationError{Field: "decision", Reason: "must be approved or declined"}
	}
	s.approvalSeq++
	r.Approvals = append(r.Approvals, domain.Approval{
		ID:       s.approvalSeq,
		Approver: approver,
		Decision: decision,
		Created:  s.now(),
	})
	return cloneRequest(r), nil
}

// --- webhooks ---

func (s *Store) RegisterWebhook(rawURL string, events []string, filter, secret string) (domain.WebhookRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.WebhookRegistration{}, &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if len(events) == 0 {
		return domain.WebhookRegistration{}, &ValidationError{Field: "events", Reason: "must subscribe to at least one event type"}
	}
	for _, e := range events {
		if !domain.KnownEventTypes[e] {
			return domain.WebhookRegistration{}, &ValidationError{Field: "events", Reason: fmt.Sprintf("unknown event type %q", e)}
		}
	}
	s.webhookSeq++
	w := &domain.WebhookRegistration{
		ID:        s.webhookSeq,
		URL:       rawURL,
		Events:    append([]string(nil), events...),
		JQLFilter: filter,
		Secret:    secret,
		Active:    true,
		Created:   s.now(),
	}
	s.webhooks[w.ID] = w
	return cloneWebhook(w), nil
}

func (s *Store) DeleteWebhook(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

func (s *Store) ListWebhooks() []domain.WebhookRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebhookRegistration, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		out = append(out, cloneWebhook(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveWebhooks returns the registrations the event bus fans out to.
func (s *Store) ActiveWebhooks() []domain.WebhookRegistration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WebhookRegistration
	for _, w := range s.webhooks {
		if w.Active {
			out = append(out, cloneWebhook(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- lookups ---

func (s *Store) GetUser(accountID string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[accountID]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (s *Store) GetProject(key string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[key]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

func (s *Store) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// StatusNames maps status id to display name for query evaluation.
func (s *Store) StatusNames() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.statuses))
	for id, st := range s.statuses {
		out[id] = st.Name
	}
	return out
}

// TypeNames maps issue type id to display name for query evaluation.
func (s *Store) TypeNames() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.issueTypes))
	for id, it := range s.issueTypes {
		out[id] = it.Name
	}
	return out
}

func (s *Store) resolveIssueType(v string) (domain.IssueType, bool) {
	if it, ok := s.issueTypes[v]; ok {
		return it, true
	}
	for _, it := range s.issueTypes {
		if strings.EqualFold(it.Name, v) {
			return it, true
		}
	}
	return domain.IssueType{}, false
}

func (s *Store) userName(accountID string) string {
	if accountID == "" {
		return ""
	}
	return s.users[accountID].DisplayName
}

// --- copies ---

func cloneIssue(is *domain.Issue) domain.Issue {
	out := *is
	out.Labels = append([]string(nil), is.Labels...)
	out.Links = append([]domain.IssueLink(nil), is.Links...)
	out.Comments = append([]domain.Comment(nil), is.Comments...)
	out.Changelog = append([]domain.ChangelogEntry(nil), is.Changelog...)
	out.Fields = cloneFields(is.Fields)
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRequest(r *domain.ServiceRequest) domain.ServiceRequest {
	out := *r
	out.Approvals = append([]domain.Approval(nil), r.Approvals...)
	return out
}

func cloneWebhook(w *domain.WebhookRegistration) domain.WebhookRegistration {
	out := *w
	out.Events = append([]string(nil), w.Events...)
	return out
}
