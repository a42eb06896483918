package domain

import (
	"encoding/json"
	"time"
)

type User struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Active      bool   `json:"active"`
}

type Project struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Type   string `json:"type" enum:"software,service_desk"`
	LeadID string `json:"lead_id"`
}

type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Status struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Transition is one edge of the workflow graph. An issue may only take
// transitions outbound from its current status.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

type IssueType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Comment struct {
	ID      int64     `json:"id"`
	Author  string    `json:"author"`
	Body    any       `json:"body"`
	Created time.Time `json:"created" format:"date-time"`
}

// LinkType carries both phrasings of a link so each side of a pair can
// render its own direction ("blocks" vs "is blocked by").
type LinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward"`
	Outward string `json:"outward"`
}

type IssueLink struct {
	ID        int64    `json:"id"`
	Type      LinkType `json:"type"`
	Direction string   `json:"direction" enum:"inward,outward"`
	OtherKey  string   `json:"other_key"`
}

type ChangelogEntry struct {
	ID         int64     `json:"id"`
	Field      string    `json:"field"`
	From       string    `json:"from"`
	FromString string    `json:"from_string"`
	To         string    `json:"to"`
	ToString   string    `json:"to_string"`
	Author     string    `json:"author"`
	Created    time.Time `json:"created" format:"date-time"`
}

type Issue struct {
	Key         string           `json:"key"`
	ProjectKey  string           `json:"project_key"`
	Type        string           `json:"type"`
	Summary     string           `json:"summary"`
	Description any              `json:"description,omitempty"`
	StatusID    string           `json:"status_id"`
	Reporter    string           `json:"reporter"`
	Assignee    string           `json:"assignee,omitempty"`
	Labels      []string         `json:"labels,omitempty"`
	Fields      map[string]any   `json:"fields,omitempty"`
	Links       []IssueLink      `json:"links,omitempty"`
	Comments    []Comment        `json:"comments,omitempty"`
	Changelog   []ChangelogEntry `json:"changelog,omitempty"`
	SprintID    int64            `json:"sprint_id,omitempty"`
	Created     time.Time        `json:"created" format:"date-time"`
	Updated     time.Time        `json:"updated" format:"date-time"`
}

type Sprint struct {
	ID      int64     `json:"id"`
	BoardID int64     `json:"board_id"`
	Name    string    `json:"name"`
	Goal    string    `json:"goal,omitempty"`
	Start   time.Time `json:"start" format:"date-time"`
	End     time.Time `json:"end" format:"date-time"`
}

// State derives the sprint lifecycle phase from the clock rather than
// storing it, so it can never drift from the dates.
func (s Sprint) State(now time.Time) string {
	switch {
	case now.Before(s.Start):
		return "future"
	case now.Before(s.End):
		return "active"
	default:
		return "closed"
	}
}

type Board struct {
	ID         int64  `json:"id"`
	ProjectKey string `json:"project_key"`
	Type       string `json:"type"`
}

type Approval struct {
	ID       int64     `json:"id"`
	Approver string    `json:"approver"`
	Decision string    `json:"decision" enum:"approved,declined"`
	Created  time.Time `json:"created" format:"date-time"`
}

type ServiceRequest struct {
	ID        int64      `json:"id"`
	IssueKey  string     `json:"issue_key"`
	Approvals []Approval `json:"approvals,omitempty"`
	Created   time.Time  `json:"created" format:"date-time"`
}

type WebhookRegistration struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	JQLFilter string    `json:"jql_filter,omitempty"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Created   time.Time `json:"created" format:"date-time"`
}

// Event is one entry of the process-wide audit log. Payload is the canonical
// JSON body handed to webhook listeners; it is marshaled exactly once at
// publish time so every delivery and replay reuses the same bytes.
type Event struct {
	ID      string          `json:"id"`
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TS      time.Time       `json:"ts" format:"date-time"`
}

// Event types carried on the audit log and matched against webhook
// subscriptions. Issue events keep their historical namespace prefix.
const (
	EventIssueCreated   = "jira:issue_created"
	EventIssueUpdated   = "jira:issue_updated"
	EventIssueDeleted   = "jira:issue_deleted"
	EventCommentCreated = "comment_created"
	EventSprintCreated  = "sprint_created"
	EventSprintUpdated  = "sprint_updated"
)

// KnownEventTypes is the set a webhook registration may subscribe to.
var KnownEventTypes = map[string]bool{
	EventIssueCreated:   true,
	EventIssueUpdated:   true,
	EventIssueDeleted:   true,
	EventCommentCreated: true,
	EventSprintCreated:  true,
	EventSprintUpdated:  true,
}

const (
	DeliveryPending   = "pending"
	DeliveryDuplicate = "duplicate"
	DeliveryRetrying  = "retrying"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// DeliveryRecord is one row of the delivery ledger. Payload and Secret are
// snapshots taken when the record is created, which is what makes replay
// byte-identical even if the registration is later edited or deleted.
type DeliveryRecord struct {
	ID             int64           `json:"id"`
	WebhookID      int64           `json:"webhook_id"`
	URL            string          `json:"url"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Secret         string          `json:"-"`
	Status         string          `json:"status" enum:"pending,duplicate,retrying,delivered,failed"`
	Attempts       int             `json:"attempts"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	Created        time.Time       `json:"created" format:"date-time"`
	Updated        time.Time       `json:"updated" format:"date-time"`
}
