// Package jql parses and evaluates the restricted filter/order language used
// to search issues. Only three clause forms are understood: `field = value`,
// `field IN (v1, v2, ...)` and `field >= value` (timestamps only). Anything
// else is a SyntaxError carrying the offending clause text.
package jql

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"issuelab/internal/domain"
)

// SyntaxError reports a clause that does not match any supported form.
type SyntaxError struct {
	Clause string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jql: Unsupported JQL clause: %s", e.Clause)
}

type Op int

const (
	OpEq Op = iota
	OpIn
	OpGTE
)

type Clause struct {
	Field  string
	Op     Op
	Values []string
}

type SortKey struct {
	Field      string
	Descending bool
}

type Query struct {
	Clauses []Clause
	Sort    []SortKey
}

// CurrentUser is the bare token the parser leaves in place for the caller
// to substitute; the evaluator itself is identity-agnostic.
const CurrentUser = "currentUser()"

// Unassigned is the sentinel matching issues with no assignee.
const Unassigned = "unassigned"

var equalityFields = map[string]bool{
	"project":   true,
	"status":    true,
	"reporter":  true,
	"assignee":  true,
	"issuetype": true,
	"type":      true, // accepted alias for issuetype
}

var rangeFields = map[string]bool{
	"created": true,
	"updated": true,
}

var sortFields = map[string]bool{
	"created":  true,
	"updated":  true,
	"key":      true,
	"status":   true,
	"summary":  true,
	"assignee": true,
	"reporter": true,
	"project":  true,
}

// Parse turns a filter/order string into a Query. An empty string is a valid
// query matching everything in the default order.
func Parse(input string) (Query, error) {
	var q Query
	filter := strings.TrimSpace(input)

	if idx := indexKeywordTopLevel(filter, "ORDER BY"); idx >= 0 {
		orderPart := strings.TrimSpace(filter[idx+len("ORDER BY"):])
		filter = strings.TrimSpace(filter[:idx])
		keys, err := parseOrder(orderPart)
		if err != nil {
			return Query{}, err
		}
		q.Sort = keys
	}

	if filter == "" {
		return q, nil
	}
	for _, raw := range splitTopLevel(filter, "AND") {
		clause, err := parseClause(strings.TrimSpace(raw))
		if err != nil {
			return Query{}, err
		}
		q.Clauses = append(q.Clauses, clause)
	}
	return q, nil
}

func parseClause(text string) (Clause, error) {
	if text == "" {
		return Clause{}, &SyntaxError{Clause: text}
	}

	// Longest operator first so ">=" is never read as "=".
	if field, rest, ok := splitOperator(text, ">="); ok {
		if !rangeFields[strings.ToLower(field)] {
			return Clause{}, &SyntaxError{Clause: text}
		}
		value, ok := unquote(rest)
		if !ok || value == "" {
			return Clause{}, &SyntaxError{Clause: text}
		}
		return Clause{Field: strings.ToLower(field), Op: OpGTE, Values: []string{value}}, nil
	}

	if field, rest, ok := splitKeyword(text, "IN"); ok {
		name := strings.ToLower(field)
		if !equalityFields[name] {
			return Clause{}, &SyntaxError{Clause: text}
		}
		rest = strings.TrimSpace(rest)
		if len(rest) < 2 || rest[0] != '(' || rest[len(rest)-1] != ')' {
			return Clause{}, &SyntaxError{Clause: text}
		}
		var values []string
		for _, part := range strings.Split(rest[1:len(rest)-1], ",") {
			value, ok := unquote(strings.TrimSpace(part))
			if !ok || value == "" {
				return Clause{}, &SyntaxError{Clause: text}
			}
			values = append(values, value)
		}
		if len(values) == 0 {
			return Clause{}, &SyntaxError{Clause: text}
		}
		return Clause{Field: name, Op: OpIn, Values: values}, nil
	}

	if field, rest, ok := splitOperator(text, "="); ok {
		name := strings.ToLower(field)
		if !equalityFields[name] {
			return Clause{}, &SyntaxError{Clause: text}
		}
		value, ok := unquote(rest)
		if !ok || value == "" {
			return Clause{}, &SyntaxError{Clause: text}
		}
		return Clause{Field: name, Op: OpEq, Values: []string{value}}, nil
	}

	return Clause{}, &SyntaxError{Clause: text}
}

func parseOrder(text string) ([]SortKey, error) {
	if text == "" {
		return nil, &SyntaxError{Clause: "ORDER BY"}
	}
	var keys []SortKey
	for _, part := range strings.Split(text, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 || len(fields) > 2 {
			return nil, &SyntaxError{Clause: "ORDER BY " + text}
		}
		key := SortKey{Field: strings.ToLower(fields[0])}
		if !sortFields[key.Field] {
			return nil, &SyntaxError{Clause: "ORDER BY " + text}
		}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				key.Descending = true
			default:
				return nil, &SyntaxError{Clause: "ORDER BY " + text}
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func splitOperator(text, op string) (field, rest string, ok bool) {
	idx := indexTopLevel(text, op)
	if idx <= 0 {
		return "", "", false
	}
	field = strings.TrimSpace(text[:idx])
	rest = strings.TrimSpace(text[idx+len(op):])
	if field == "" || rest == "" || strings.ContainsAny(field, " \t") {
		return "", "", false
	}
	return field, rest, true
}

func splitKeyword(text, kw string) (field, rest string, ok bool) {
	idx := indexKeywordTopLevel(text, kw)
	if idx <= 0 {
		return "", "", false
	}
	field = strings.TrimSpace(text[:idx])
	rest = strings.TrimSpace(text[idx+len(kw):])
	if field == "" || rest == "" || strings.ContainsAny(field, " \t") {
		return "", "", false
	}
	return field, rest, true
}

// indexTopLevel finds op outside quotes and parentheses.
func indexTopLevel(text, op string) int {
	depth := 0
	var quote byte
	for i := 0; i+len(op) <= len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && text[i:i+len(op)] == op {
				return i
			}
		}
	}
	return -1
}

// indexKeywordTopLevel finds a case-insensitive keyword bounded by
// whitespace, outside quotes and parentheses.
func indexKeywordTopLevel(text, kw string) int {
	depth := 0
	var quote byte
	upper := strings.ToUpper(text)
	kw = strings.ToUpper(kw)
	for i := 0; i+len(kw) <= len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && quote == 0 && upper[i:i+len(kw)] == kw {
			before := i == 0 || upper[i-1] == ' ' || upper[i-1] == '\t'
			afterIdx := i + len(kw)
			after := afterIdx == len(text) || upper[afterIdx] == ' ' || upper[afterIdx] == '\t' || upper[afterIdx] == '('
			if before && after {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(text, kw string) []string {
	var parts []string
	rest := text
	for {
		idx := indexKeywordTopLevel(rest, kw)
		if idx < 0 {
			parts = append(parts, rest)
			return parts
		}
		parts = append(parts, rest[:idx])
		rest = rest[idx+len(kw):]
	}
}

func unquote(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') {
		if v[len(v)-1] != v[0] {
			return "", false
		}
		return v[1 : len(v)-1], true
	}
	if strings.ContainsAny(v, " \t") {
		return "", false
	}
	return v, true
}

// EvalOptions supplies the display-name indexes the evaluator needs for
// status/issuetype matching.
type EvalOptions struct {
	StatusNames map[string]string // status id -> display name
	TypeNames   map[string]string // issue type id -> display name
}

// Evaluate filters and sorts a snapshot of issues. Filters run first
// (equality/membership, then timestamp lower bounds), then the sort plan.
// Without an ORDER BY the result is ordered by `updated` descending.
func Evaluate(issues []domain.Issue, q Query, opts EvalOptions) []domain.Issue {
	out := make([]domain.Issue, 0, len(issues))
	for _, is := range issues {
		if matchesEquality(is, q.Clauses, opts) && matchesRanges(is, q.Clauses) {
			out = append(out, is)
		}
	}

	keys := q.Sort
	if len(keys) == 0 {
		keys = []SortKey{{Field: "updated", Descending: true}}
	}
	// Full stable resort per key, least significant first, so the most
	// significant key's direction dominates the final order.
	for i := len(keys) - 1; i >= 0; i-- {
		sortByKey(out, keys[i])
	}
	return out
}

func matchesEquality(is domain.Issue, clauses []Clause, opts EvalOptions) bool {
	for _, c := range clauses {
		if c.Op == OpGTE {
			continue
		}
		if !matchesClause(is, c, opts) {
			return false
		}
	}
	return true
}

func matchesRanges(is domain.Issue, clauses []Clause) bool {
	for _, c := range clauses {
		if c.Op != OpGTE {
			continue
		}
		bound, err := parseTime(c.Values[0])
		if err != nil {
			return false
		}
		var ts time.Time
		if c.Field == "created" {
			ts = is.Created
		} else {
			ts = is.Updated
		}
		if ts.Before(bound) {
			return false
		}
	}
	return true
}

func matchesClause(is domain.Issue, c Clause, opts EvalOptions) bool {
	for _, v := range c.Values {
		if matchesValue(is, c.Field, v, opts) {
			return true
		}
	}
	return false
}

func matchesValue(is domain.Issue, field, value string, opts EvalOptions) bool {
	switch field {
	case "project":
		return strings.EqualFold(is.ProjectKey, value)
	case "status":
		if is.StatusID == value {
			return true
		}
		return strings.EqualFold(opts.StatusNames[is.StatusID], value)
	case "reporter":
		return is.Reporter == value
	case "assignee":
		if strings.EqualFold(value, Unassigned) || strings.EqualFold(value, "empty") {
			return is.Assignee == ""
		}
		return is.Assignee == value
	case "issuetype", "type":
		if strings.EqualFold(is.Type, value) {
			return true
		}
		return strings.EqualFold(opts.TypeNames[is.Type], value)
	default:
		return false
	}
}

// parseTime accepts RFC 3339 and the date-only and minute-resolution forms
// filters are commonly written with.
func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("jql: invalid timestamp %q", v)
}

func sortByKey(issues []domain.Issue, key SortKey) {
	sort.SliceStable(issues, func(i, j int) bool {
		if key.Descending {
			i, j = j, i
		}
		return compareByField(issues[i], issues[j], key.Field)
	})
}

func compareByField(a, b domain.Issue, field string) bool {
	switch field {
	case "created":
		return a.Created.Before(b.Created)
	case "updated":
		return a.Updated.Before(b.Updated)
	case "key":
		return a.Key < b.Key
	case "status":
		return a.StatusID < b.StatusID
	case "summary":
		return a.Summary < b.Summary
	case "assignee":
		return a.Assignee < b.Assignee
	case "reporter":
		return a.Reporter < b.Reporter
	case "project":
		return a.ProjectKey < b.ProjectKey
	default:
		return false
	}
}
