package domain

import (
	"strings"
	"time"
)

// Fixed board columns, in display order.
const (
	ListTodo       = "TODO"
	ListInProgress = "IN PROGRESS"
	ListDone       = "DONE"
)

// DefaultListTitles are provisioned for every new account.
var DefaultListTitles = [...]string{ListTodo, ListInProgress, ListDone}

// Task is a single board item stored under exactly one TaskList.
type Task struct {
	ID          string    `json:"id"`
	ListID      string    `json:"listId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Order       int       `json:"order"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// ETag is the store version the task was read at. Empty for new tasks.
	ETag string `json:"-"`
}

// TaskList is a named column of tasks owned by one user.
type TaskList struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	UserID string `json:"userId"`
	// Tasks caches child task ids. The tasks sub-collection is authoritative.
	Tasks     []string  `json:"tasks"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ETag string `json:"-"`
}

// HasTask reports whether id is present in the cached id array.
func (l TaskList) HasTask(id string) bool {
	for _, t := range l.Tasks {
		if t == id {
			return true
		}
	}
	return false
}

// WithTask returns a copy of the id array with id appended once.
func (l TaskList) WithTask(id string) []string {
	if l.HasTask(id) {
		return append([]string(nil), l.Tasks...)
	}
	out := make([]string, 0, len(l.Tasks)+1)
	out = append(out, l.Tasks...)
	return append(out, id)
}

// WithoutTask returns a copy of the id array with every occurrence of id removed.
func (l TaskList) WithoutTask(id string) []string {
	out := make([]string, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		if t != id {
			out = append(out, t)
		}
	}
	return out
}

// BoardColumn is one slot of the board response. ID is nil for a list the
// user does not have yet.
type BoardColumn struct {
	ID    *string `json:"id"`
	Title string  `json:"title"`
	Tasks []Task  `json:"tasks"`
}

// columnIndex maps a list title to its board slot, or -1.
func columnIndex(title string) int {
	switch strings.ToUpper(strings.TrimSpace(title)) {
	case ListTodo:
		return 0
	case ListInProgress:
		return 1
	case ListDone:
		return 2
	}
	return -1
}
