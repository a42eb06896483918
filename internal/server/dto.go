package server

import (
	"time"

	"issuelab/internal/domain"
)

type CreateIssueRequest struct {
	Project     string         `json:"project"`
	Type        string         `json:"issuetype"`
	Summary     string         `json:"summary"`
	Description any            `json:"description,omitempty"`
	Reporter    string         `json:"reporter,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

type UpdateIssueRequest struct {
	Summary     *string        `json:"summary,omitempty"`
	Description *any           `json:"description,omitempty"`
	Assignee    *string        `json:"assignee,omitempty"`
	Labels      *[]string      `json:"labels,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

type TransitionRequest struct {
	Transition struct {
		ID string `json:"id"`
	} `json:"transition"`
}

type CommentRequest struct {
	Body any `json:"body"`
}

type LinkRequest struct {
	Type         string `json:"type"`
	OutwardIssue string `json:"outward_issue"`
	InwardIssue  string `json:"inward_issue"`
}

type SearchResponse struct {
	Issues     []domain.Issue `json:"issues"`
	Total      int            `json:"total"`
	StartAt    int            `json:"startAt"`
	MaxResults int            `json:"maxResults"`
}

type BoardRequest struct {
	Project string `json:"project"`
	Type    string `json:"type,omitempty"`
}

type SprintRequest struct {
	BoardID int64     `json:"board_id"`
	Name    string    `json:"name"`
	Goal    string    `json:"goal,omitempty"`
	Start   time.Time `json:"start" format:"date-time"`
	End     time.Time `json:"end" format:"date-time"`
}

// SprintResponse adds the derived lifecycle state to the stored sprint.
type SprintResponse struct {
	domain.Sprint
	State string `json:"state" enum:"future,active,closed"`
}

func sprintResponse(sp domain.Sprint, now time.Time) SprintResponse {
	return SprintResponse{Sprint: sp, State: sp.State(now)}
}

type JitterRequest struct {
	MinMS int `json:"min_ms"`
	MaxMS int `json:"max_ms"`
}
