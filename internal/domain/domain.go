package domain

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"active,completed,on-hold"`
	Progress    int      `json:"progress" minimum:"0" maximum:"100"`
	TasksCount  int      `json:"tasks_count"`
	Members     []Member `json:"members,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Member is a user's membership in a project. The project owner is an
// implicit leader whether or not they appear here.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role" enum:"leader,co-leader,member"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in-progress,done"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	Time      string `json:"time" format:"date-time"`
}

// NotificationPreference holds a user's per-category notification flags.
// A user without a stored record gets all-true defaults.
type NotificationPreference struct {
	UserID             string `json:"user_id"`
	EmailNotifications bool   `json:"email_notifications"`
	PushNotifications  bool   `json:"push_notifications"`
	WeeklyDigest       bool   `json:"weekly_digest"`
	ProjectUpdates     bool   `json:"project_updates"`
	TaskReminders      bool   `json:"task_reminders"`
	TeamInvites        bool   `json:"team_invites"`
}

// UserRef is the display identity attached to an activity event.
type UserRef struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ActivityEvent is an append-only audit record. Events are never mutated
// or deleted.
type ActivityEvent struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	User      UserRef `json:"user"`
	ProjectID string  `json:"project_id,omitempty"`
	TaskID    string  `json:"task_id,omitempty"`
	Metadata  string  `json:"metadata_json,omitempty"`
	Time      string  `json:"time" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
