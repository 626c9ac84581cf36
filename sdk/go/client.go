package crewdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Crewdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id"`
	Progress    int    `json:"progress"`
	TasksCount  int    `json:"tasks_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Member represents a project member.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assignee_id"`
	DueDate     *string `json:"due_date"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Notification represents a delivered notification.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	Time      string `json:"time"`
}

// Event represents an activity log entry.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	ProjectID string         `json:"project_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Time      string         `json:"time"`
	User      map[string]any `json:"user"`
}

// Preferences mirrors a user's notification preference flags.
type Preferences struct {
	EmailNotifications bool `json:"email_notifications"`
	PushNotifications  bool `json:"push_notifications"`
	WeeklyDigest       bool `json:"weekly_digest"`
	ProjectUpdates     bool `json:"project_updates"`
	TaskReminders      bool `json:"task_reminders"`
	TeamInvites        bool `json:"team_invites"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedNotifications wraps notification list responses.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// PaginatedEvents wraps activity list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateProject creates a project owned by the authenticated user.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name, "description": description}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// Projects lists projects visible to the authenticated user.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateProject patches project fields; empty strings are left unchanged.
func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, c.projectPath(id, ""), fields, &resp)
	return resp, err
}

// DeleteProject deletes a project and everything in it.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath(id, ""), nil, nil)
}

// AddMember invites a user to a project.
func (c *Client) AddMember(ctx context.Context, projectID, userID, name, role string) (Member, error) {
	body := map[string]any{"user_id": userID, "name": name}
	if role != "" {
		body["role"] = role
	}
	var resp Member
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "members"), body, &resp)
	return resp, err
}

// RemoveMember removes a user from a project.
func (c *Client) RemoveMember(ctx context.Context, projectID, userID string) error {
	endpoint := c.projectPath(projectID, "members/"+url.PathEscape(userID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// SetMemberRole changes a member's role.
func (c *Client) SetMemberRole(ctx context.Context, projectID, userID, role string) (Member, error) {
	endpoint := c.projectPath(projectID, "members/"+url.PathEscape(userID)+"/role")
	var resp Member
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"role": role}, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "tasks"), map[string]any{"title": title}, &resp)
	return resp, err
}

// Tasks returns a page of tasks for a project.
func (c *Client) Tasks(ctx context.Context, projectID string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := withPage(c.projectPath(projectID, "tasks"), limit, cursor)
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, projectID, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "tasks/"+url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// UpdateTask patches task fields. Pass assignee_id or due_date explicitly
// set to null in fields to clear them.
func (c *Client) UpdateTask(ctx context.Context, projectID, taskID string, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.projectPath(projectID, "tasks/"+url.PathEscape(taskID)), fields, &resp)
	return resp, err
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath(projectID, "tasks/"+url.PathEscape(taskID)), nil, nil)
}

// Notifications returns a page of the caller's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int, cursor string) (PaginatedNotifications, error) {
	endpoint := withPage("v0/notifications", limit, cursor)
	if unreadOnly {
		endpoint = appendQuery(endpoint, "unread_only=true")
	}
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UnreadCount returns the caller's unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Unread int `json:"unread"`
	}
	err := c.do(ctx, http.MethodGet, "v0/notifications/unread-count", nil, &resp)
	return resp.Unread, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "v0/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "v0/notifications/read-all", nil, nil)
}

// GetPreferences returns the caller's notification preferences.
func (c *Client) GetPreferences(ctx context.Context) (Preferences, error) {
	var resp Preferences
	err := c.do(ctx, http.MethodGet, "v0/me/preferences", nil, &resp)
	return resp, err
}

// UpdatePreferences replaces the caller's notification preferences.
func (c *Client) UpdatePreferences(ctx context.Context, prefs Preferences) (Preferences, error) {
	var resp Preferences
	err := c.do(ctx, http.MethodPut, "v0/me/preferences", prefs, &resp)
	return resp, err
}

// Activity returns a page of a project's activity feed, newest first.
func (c *Client) Activity(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := withPage(c.projectPath(projectID, "activity"), limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	endpoint := "v0/projects/" + url.PathEscape(projectID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withPage(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = appendQuery(endpoint, fmt.Sprintf("limit=%d", limit))
	}
	if cursor != "" {
		endpoint = appendQuery(endpoint, "cursor="+url.QueryEscape(cursor))
	}
	return endpoint
}

func appendQuery(endpoint, kv string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + kv
}
