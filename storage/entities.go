package storage

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

// Every document of a user shares the user's partition. Row keys:
//
//	user                    profile
//	list_<listId>           task list
//	task_<listId>_<taskId>  task
const (
	userRowKey = "user"
	listPrefix = "list_"
	taskPrefix = "task_"

	kindUser = "user"
	kindList = "list"
	kindTask = "task"

	edmDateTime = "Edm.DateTime"
	edmInt32    = "Edm.Int32"
)

func listRowKey(listID string) string { return listPrefix + listID }

func taskRowKey(listID, taskID string) string { return taskPrefix + listID + "_" + taskID }

// taskRange returns the half-open row key range [start, end) holding the
// tasks of listID. '`' sorts right after '_'.
func taskRange(listID string) (start, end string) {
	return taskPrefix + listID + "_", taskPrefix + listID + "`"
}

func listRange() (start, end string) {
	return listPrefix, "list`"
}

// validKey reports whether s can be used inside a row key. Table storage
// rejects '/', '\', '#', '?' and control characters.
func validKey(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/\\#?\t\n\r\x7f")
}

// Keys identifies a table entity.
type Keys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type userEntity struct {
	Keys
	Kind          string    `json:"Kind"`
	Name          string    `json:"Name"`
	Email         string    `json:"Email"`
	Avatar        string    `json:"Avatar,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

type listEntity struct {
	Keys
	Kind          string    `json:"Kind"`
	ListID        string    `json:"ListId"`
	Title         string    `json:"Title"`
	UserID        string    `json:"UserId"`
	Tasks         string    `json:"Tasks"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

type taskEntity struct {
	Keys
	Kind          string    `json:"Kind"`
	TaskID        string    `json:"TaskId"`
	ListID        string    `json:"ListId"`
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Order         int       `json:"Order"`
	OrderType     string    `json:"Order@odata.type,omitempty"`
	UserID        string    `json:"UserId"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

// storedTime clamps zero times to the earliest DateTime table storage
// accepts.
func storedTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t.UTC()
}

func loadedTime(t time.Time) time.Time {
	if t.Year() <= 1601 {
		return time.Time{}
	}
	return t
}

// document is the encoded form of a single write.
type document struct {
	RowKey string
	Body   []byte
	ETag   string
}

func encodeWrite(userID string, w domain.Write) (document, error) {
	var (
		rowKey string
		body   any
	)
	switch {
	case w.User != nil:
		u := w.User
		rowKey = userRowKey
		body = userEntity{
			Keys:          Keys{PartitionKey: userID, RowKey: rowKey},
			Kind:          kindUser,
			Name:          u.Name,
			Email:         u.Email,
			Avatar:        u.Avatar,
			CreatedAt:     storedTime(u.CreatedAt),
			CreatedAtType: edmDateTime,
		}
	case w.List != nil:
		l := w.List
		rowKey = listRowKey(l.ID)
		ids := l.Tasks
		if ids == nil {
			ids = []string{}
		}
		tasks, err := sonic.MarshalString(ids)
		if err != nil {
			return document{}, err
		}
		body = listEntity{
			Keys:          Keys{PartitionKey: userID, RowKey: rowKey},
			Kind:          kindList,
			ListID:        l.ID,
			Title:         l.Title,
			UserID:        userID,
			Tasks:         tasks,
			CreatedAt:     storedTime(l.CreatedAt),
			CreatedAtType: edmDateTime,
			UpdatedAt:     storedTime(l.UpdatedAt),
			UpdatedAtType: edmDateTime,
		}
	case w.Task != nil:
		t := w.Task
		rowKey = taskRowKey(t.ListID, t.ID)
		body = taskEntity{
			Keys:          Keys{PartitionKey: userID, RowKey: rowKey},
			Kind:          kindTask,
			TaskID:        t.ID,
			ListID:        t.ListID,
			Title:         t.Title,
			Description:   t.Description,
			Order:         t.Order,
			OrderType:     edmInt32,
			UserID:        userID,
			CreatedAt:     storedTime(t.CreatedAt),
			CreatedAtType: edmDateTime,
			UpdatedAt:     storedTime(t.UpdatedAt),
			UpdatedAtType: edmDateTime,
		}
	default:
		return document{}, errEmptyWrite
	}
	data, err := sonic.Marshal(body)
	if err != nil {
		return document{}, err
	}
	return document{RowKey: rowKey, Body: data, ETag: w.ETag()}, nil
}

func decodeUser(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID:        ent.PartitionKey,
		Name:      ent.Name,
		Email:     ent.Email,
		Avatar:    ent.Avatar,
		CreatedAt: loadedTime(ent.CreatedAt),
	}, nil
}

func decodeList(data []byte, etag string) (domain.TaskList, error) {
	var ent listEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.TaskList{}, err
	}
	ids := []string{}
	if ent.Tasks != "" {
		if err := sonic.UnmarshalString(ent.Tasks, &ids); err != nil {
			return domain.TaskList{}, err
		}
	}
	id := ent.ListID
	if id == "" {
		id = strings.TrimPrefix(ent.RowKey, listPrefix)
	}
	return domain.TaskList{
		ID:        id,
		Title:     ent.Title,
		UserID:    ent.PartitionKey,
		Tasks:     ids,
		CreatedAt: loadedTime(ent.CreatedAt),
		UpdatedAt: loadedTime(ent.UpdatedAt),
		ETag:      etag,
	}, nil
}

func decodeTask(data []byte, etag string) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.TaskID,
		ListID:      ent.ListID,
		Title:       ent.Title,
		Description: ent.Description,
		Order:       ent.Order,
		UserID:      ent.PartitionKey,
		CreatedAt:   loadedTime(ent.CreatedAt),
		UpdatedAt:   loadedTime(ent.UpdatedAt),
		ETag:        etag,
	}, nil
}
