package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// NewTask is the input of AddTask.
type NewTask struct {
	Title       string
	Description string
}

// TaskChanges is the input of UpdateTask. Nil fields are left unchanged.
type TaskChanges struct {
	ListID      string
	TaskID      string
	Title       *string
	Description *string
}

// Reorder moves a task to Order within NewListID (or within ListID when
// NewListID is empty or equal).
type Reorder struct {
	ListID      string
	NewListID   string
	TaskID      string
	Order       int
	Title       *string
	Description *string
}

func (r Reorder) moving() bool {
	return r.NewListID != "" && r.NewListID != r.ListID
}

func (r Reorder) destination() string {
	if r.moving() {
		return r.NewListID
	}
	return r.ListID
}

// TaskService implements board reads and task mutations for one user at a
// time. Mutations run as optimistic transactions against the Store.
type TaskService struct {
	store  Store
	events Publisher
	log    *log.Logger

	maxAttempts int
	now         func() time.Time
	newID       func() string
}

func NewTaskService(store Store, events Publisher, logger *log.Logger) *TaskService {
	if events == nil {
		events = NopPublisher{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		store:       store,
		events:      events,
		log:         logger,
		maxAttempts: MaxCommitAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Board returns the TODO, IN PROGRESS and DONE columns. Missing lists are
// returned as placeholders with a nil id.
func (s *TaskService) Board(ctx context.Context, userID string) ([]BoardColumn, error) {
	board := make([]BoardColumn, len(DefaultListTitles))
	for i, title := range DefaultListTitles {
		board[i] = BoardColumn{Title: title, Tasks: []Task{}}
	}

	listLists, listTasks := s.store.ListTaskLists, func(ctx context.Context, userID, listID string) ([]Task, error) {
		return s.store.ListTasks(ctx, userID, listID, 0)
	}
	if snap, ok := s.store.(BoardSnapshot); ok {
		listLists, listTasks = snap.SnapshotTaskLists, snap.SnapshotTasks
	}

	lists, err := listLists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list task lists: %w", err)
	}
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].CreatedAt.Before(lists[j].CreatedAt) })

	for _, l := range lists {
		idx := columnIndex(l.Title)
		if idx < 0 {
			s.log.WithFields(log.Fields{"user": userID, "list": l.ID, "title": l.Title}).Warn("unexpected list title")
			continue
		}
		if board[idx].ID != nil {
			s.log.WithFields(log.Fields{"user": userID, "list": l.ID, "title": l.Title}).Warn("duplicate list title ignored")
			continue
		}
		tasks, err := listTasks(ctx, userID, l.ID)
		if err != nil {
			return nil, fmt.Errorf("list tasks of %s: %w", l.ID, err)
		}
		for i := range tasks {
			tasks[i].ListID = l.ID
		}
		id := l.ID
		board[idx] = BoardColumn{ID: &id, Title: l.Title, Tasks: tasks}
	}
	return board, nil
}

// AddTask appends a task to the user's TODO list, creating the list if the
// user has none.
func (s *TaskService) AddTask(ctx context.Context, userID string, in NewTask) (Task, error) {
	taskID := s.newID()
	var task Task
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		var err error
		task, err = s.addTaskOnce(ctx, userID, taskID, in)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.log.WithFields(log.Fields{"user": userID, "list": task.ListID, "task": task.ID, "order": task.Order}).Debug("task added")
	s.events.Publish(ctx, newEvent(TaskCreated, userID, task.ID, task.ListID, map[string]any{
		"title":       task.Title,
		"description": task.Description,
		"order":       task.Order,
	}))
	return task, nil
}

func (s *TaskService) addTaskOnce(ctx context.Context, userID, taskID string, in NewTask) (Task, error) {
	now := s.now()
	list, found, err := s.findList(ctx, userID, ListTodo)
	if err != nil {
		return Task{}, err
	}

	var siblings []Task
	if found {
		siblings, err = s.store.ListTasks(ctx, userID, list.ID, 0)
		if err != nil {
			return Task{}, fmt.Errorf("list tasks: %w", err)
		}
	} else {
		list = TaskList{ID: s.newID(), Title: ListTodo, UserID: userID, CreatedAt: now}
	}

	task := Task{
		ID:          taskID,
		ListID:      list.ID,
		Title:       in.Title,
		Description: in.Description,
		Order:       appendPosition(siblings),
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var b Batch
	b.CreateTask(task)
	list.Tasks = list.WithTask(task.ID)
	list.UpdatedAt = now
	if found {
		b.SaveList(list)
	} else {
		b.CreateList(list)
	}
	if err := s.store.Commit(ctx, userID, &b); err != nil {
		return Task{}, fmt.Errorf("commit add task: %w", err)
	}
	return task, nil
}

// appendPosition is the sibling count, bumped past the highest order when
// gaps or out-of-range inserts already occupy it.
func appendPosition(siblings []Task) int {
	pos := len(siblings)
	for _, t := range siblings {
		if t.Order >= pos {
			pos = t.Order + 1
		}
	}
	return pos
}

func (s *TaskService) findList(ctx context.Context, userID, title string) (TaskList, bool, error) {
	lists, err := s.store.ListTaskLists(ctx, userID)
	if err != nil {
		return TaskList{}, false, fmt.Errorf("list task lists: %w", err)
	}
	want := columnIndex(title)
	var (
		match TaskList
		found bool
	)
	for _, l := range lists {
		if columnIndex(l.Title) != want {
			continue
		}
		if !found || l.CreatedAt.Before(match.CreatedAt) {
			match, found = l, true
		}
	}
	return match, found, nil
}

// UpdateTask overwrites title and description of a task.
func (s *TaskService) UpdateTask(ctx context.Context, userID string, in TaskChanges) (Task, error) {
	var task Task
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		var err error
		task, err = s.store.GetTask(ctx, userID, in.ListID, in.TaskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("load task: %w", err)
		}
		if in.Title != nil {
			task.Title = *in.Title
		}
		if in.Description != nil {
			task.Description = *in.Description
		}
		task.UpdatedAt = s.now()

		var b Batch
		b.SaveTask(task)
		if err := s.store.Commit(ctx, userID, &b); err != nil {
			return fmt.Errorf("commit update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	s.events.Publish(ctx, newEvent(TaskUpdated, userID, task.ID, task.ListID, map[string]any{
		"title":       task.Title,
		"description": task.Description,
	}))
	return task, nil
}

// ReorderTask inserts the task at position in.Order of the destination list.
// Every other task at or after that position moves down by one; positions
// are not clamped or compacted.
func (s *TaskService) ReorderTask(ctx context.Context, userID string, in Reorder) (Task, error) {
	if in.Order < 0 {
		return Task{}, ErrInvalidOrder
	}
	var task Task
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		var err error
		task, err = s.reorderOnce(ctx, userID, in)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	s.log.WithFields(log.Fields{"user": userID, "from": in.ListID, "to": task.ListID, "task": task.ID, "order": task.Order}).Debug("task reordered")
	s.events.Publish(ctx, newEvent(TaskReordered, userID, task.ID, task.ListID, map[string]any{
		"fromListId": in.ListID,
		"order":      task.Order,
	}))
	return task, nil
}

func (s *TaskService) reorderOnce(ctx context.Context, userID string, in Reorder) (Task, error) {
	now := s.now()
	dstID := in.destination()

	task, err := s.store.GetTask(ctx, userID, in.ListID, in.TaskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("load task: %w", err)
	}

	var b Batch
	if in.moving() {
		src, err := s.loadList(ctx, userID, in.ListID)
		if err != nil {
			return Task{}, err
		}
		dst, err := s.loadList(ctx, userID, dstID)
		if err != nil {
			return Task{}, err
		}
		b.DeleteTask(task)
		src.Tasks = src.WithoutTask(task.ID)
		src.UpdatedAt = now
		b.SaveList(src)
		dst.Tasks = dst.WithTask(task.ID)
		dst.UpdatedAt = now
		b.SaveList(dst)
	}

	shifted, err := s.store.ListTasks(ctx, userID, dstID, in.Order)
	if err != nil {
		return Task{}, fmt.Errorf("list tasks: %w", err)
	}
	for _, sib := range shifted {
		if sib.ID == task.ID {
			continue
		}
		sib.Order++
		b.SaveTask(sib)
	}

	moved := task
	moved.ListID = dstID
	moved.Order = in.Order
	moved.UpdatedAt = now
	if in.Title != nil {
		moved.Title = *in.Title
	}
	if in.Description != nil {
		moved.Description = *in.Description
	}
	if in.moving() {
		moved.ETag = ""
		b.CreateTask(moved)
	} else {
		b.SaveTask(moved)
	}

	if err := s.store.Commit(ctx, userID, &b); err != nil {
		return Task{}, fmt.Errorf("commit reorder: %w", err)
	}
	return moved, nil
}

func (s *TaskService) loadList(ctx context.Context, userID, listID string) (TaskList, error) {
	l, err := s.store.GetTaskList(ctx, userID, listID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TaskList{}, ErrListNotFound
		}
		return TaskList{}, fmt.Errorf("load list %s: %w", listID, err)
	}
	return l, nil
}

// DeleteTask removes the task and its id from the list's cache. The list is
// kept when it becomes empty and remaining positions are not compacted.
func (s *TaskService) DeleteTask(ctx context.Context, userID, listID, taskID string) error {
	err := retryOnConflict(ctx, s.maxAttempts, func() error {
		task, err := s.store.GetTask(ctx, userID, listID, taskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrTaskNotFound
			}
			return fmt.Errorf("load task: %w", err)
		}

		var b Batch
		b.DeleteTask(task)
		list, err := s.store.GetTaskList(ctx, userID, listID)
		switch {
		case err == nil:
			list.Tasks = list.WithoutTask(taskID)
			list.UpdatedAt = s.now()
			b.SaveList(list)
		case errors.Is(err, ErrNotFound):
			s.log.WithFields(log.Fields{"user": userID, "list": listID, "task": taskID}).Warn("deleting task of missing list")
		default:
			return fmt.Errorf("load list: %w", err)
		}

		if err := s.store.Commit(ctx, userID, &b); err != nil {
			return fmt.Errorf("commit delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, newEvent(TaskDeleted, userID, taskID, listID, nil))
	return nil
}
