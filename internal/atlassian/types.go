package atlassian

import (
	"encoding/json"
	"strings"

	"github.com/florianilch/ticketbridge/internal/fields"
)

// Resource is a site the access token is authorized for.
type Resource struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields requested by fields.Fetch.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF (Atlassian Document Format) or plain text
	Status      *NamedField     `json:"status"`
	Priority    *NamedField     `json:"priority"`
	Components  []NamedField    `json:"components"`
	Labels      []string        `json:"labels"`
	Assignee    *UserField      `json:"assignee"`
}

// NamedField is the shape shared by status, priority and component values.
type NamedField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserField represents a Jira user.
type UserField struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Snapshot projects the issue onto the cached snapshot shape.
func (i *Issue) Snapshot() fields.Snapshot {
	s := fields.Snapshot{
		Key:         i.Key,
		Summary:     i.Fields.Summary,
		Labels:      i.Fields.Labels,
		Description: DescriptionToPlainText(i.Fields.Description),
	}
	if i.Fields.Status != nil {
		s.Status = i.Fields.Status.Name
	}
	if i.Fields.Priority != nil {
		s.Priority = i.Fields.Priority.Name
	}
	if i.Fields.Assignee != nil {
		s.Assignee = i.Fields.Assignee.DisplayName
	}
	for _, c := range i.Fields.Components {
		s.Components = append(s.Components, c.Name)
	}
	return s
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian Document Format).
// Jira v3 API returns descriptions as ADF JSON, not plain text.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		// Not ADF - try plain string
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var parts []string
	for _, block := range doc.Content {
		var line strings.Builder
		for _, inline := range block.Content {
			line.WriteString(inline.Text)
		}
		if line.Len() > 0 {
			parts = append(parts, line.String())
		}
	}

	return strings.Join(parts, "\n")
}
