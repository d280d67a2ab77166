package domain

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
)

type fakeStore struct {
	mu      sync.Mutex
	version int
	users   map[string]User
	lists   map[string]map[string]TaskList
	tasks   map[string]map[string]Task // user -> list/task -> task
	commits int

	// beforeCommit runs before each commit is validated, outside the lock.
	beforeCommit func(n int)
	commitErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]User{},
		lists: map[string]map[string]TaskList{},
		tasks: map[string]map[string]Task{},
	}
}

func taskKey(listID, taskID string) string { return listID + "/" + taskID }

func (f *fakeStore) nextETag() string {
	f.version++
	return "v" + strconv.Itoa(f.version)
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ListTaskLists(_ context.Context, userID string) ([]TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []TaskList{}
	for _, l := range f.lists[userID] {
		l.Tasks = append([]string(nil), l.Tasks...)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetTaskList(_ context.Context, userID, listID string) (TaskList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[userID][listID]
	if !ok {
		return TaskList{}, ErrNotFound
	}
	l.Tasks = append([]string(nil), l.Tasks...)
	return l, nil
}

func (f *fakeStore) ListTasks(_ context.Context, userID, listID string, minOrder int) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Task{}
	for _, t := range f.tasks[userID] {
		if t.ListID == listID && t.Order >= minOrder {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) GetTask(_ context.Context, userID, listID, taskID string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[userID][taskKey(listID, taskID)]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) Commit(_ context.Context, userID string, b *Batch) error {
	f.mu.Lock()
	n := f.commits
	f.commits++
	hook := f.beforeCommit
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	for _, w := range b.Writes() {
		if err := f.check(userID, w); err != nil {
			return err
		}
	}
	for _, w := range b.Writes() {
		f.apply(userID, w)
	}
	return nil
}

func (f *fakeStore) check(userID string, w Write) error {
	var (
		exists  bool
		current string
	)
	switch {
	case w.User != nil:
		_, exists = f.users[userID]
	case w.List != nil:
		var l TaskList
		l, exists = f.lists[userID][w.List.ID]
		current = l.ETag
	case w.Task != nil:
		var t Task
		t, exists = f.tasks[userID][taskKey(w.Task.ListID, w.Task.ID)]
		current = t.ETag
	}
	switch w.Kind {
	case WriteCreate:
		if exists {
			return ErrConcurrencyConflict
		}
	case WriteSave, WriteDelete:
		if w.ETag() == "" {
			return nil
		}
		if !exists || current != w.ETag() {
			return ErrConcurrencyConflict
		}
	}
	return nil
}

func (f *fakeStore) apply(userID string, w Write) {
	switch {
	case w.User != nil:
		f.users[userID] = *w.User
	case w.List != nil:
		if f.lists[userID] == nil {
			f.lists[userID] = map[string]TaskList{}
		}
		l := *w.List
		if w.Kind == WriteDelete {
			delete(f.lists[userID], l.ID)
			return
		}
		l.ETag = f.nextETag()
		f.lists[userID][l.ID] = l
	case w.Task != nil:
		if f.tasks[userID] == nil {
			f.tasks[userID] = map[string]Task{}
		}
		t := *w.Task
		key := taskKey(t.ListID, t.ID)
		if w.Kind == WriteDelete {
			delete(f.tasks[userID], key)
			return
		}
		t.ETag = f.nextETag()
		f.tasks[userID][key] = t
	}
}

// seedList stores a list with tasks at the given orders and returns the task ids.
func (f *fakeStore) seedList(userID, listID, title string, orders ...int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lists[userID] == nil {
		f.lists[userID] = map[string]TaskList{}
	}
	if f.tasks[userID] == nil {
		f.tasks[userID] = map[string]Task{}
	}
	ids := make([]string, 0, len(orders))
	for i, o := range orders {
		id := listID + "-t" + strconv.Itoa(i)
		f.tasks[userID][taskKey(listID, id)] = Task{ID: id, ListID: listID, Order: o, UserID: userID, ETag: f.nextETag()}
		ids = append(ids, id)
	}
	f.lists[userID][listID] = TaskList{ID: listID, Title: title, UserID: userID, Tasks: ids, ETag: f.nextETag()}
	return append([]string(nil), ids...)
}

func (f *fakeStore) orders(userID, listID string) map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, t := range f.tasks[userID] {
		if t.ListID == listID {
			out[t.ID] = t.Order
		}
	}
	return out
}

// touch bumps the ETag of a stored task, simulating a concurrent writer.
func (f *fakeStore) touch(userID, listID, taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskKey(listID, taskID)
	t := f.tasks[userID][key]
	t.ETag = f.nextETag()
	f.tasks[userID][key] = t
}

type fakeIdentity struct {
	uid       string
	createErr error
	created   []NewIdentity
	deleted   []string
}

func (f *fakeIdentity) CreateUser(_ context.Context, in NewIdentity) (IdentityRecord, error) {
	if f.createErr != nil {
		return IdentityRecord{}, f.createErr
	}
	f.created = append(f.created, in)
	return IdentityRecord{UID: f.uid, Email: in.Email, DisplayName: in.DisplayName}, nil
}

func (f *fakeIdentity) DeleteUser(_ context.Context, uid string) error {
	f.deleted = append(f.deleted, uid)
	return nil
}

type fakeVerifier struct {
	principal Principal
	err       error
}

func (f fakeVerifier) VerifyToken(context.Context, string) (Principal, error) {
	if f.err != nil {
		return Principal{}, f.err
	}
	return f.principal, nil
}

var errBoom = errors.New("boom")

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(_ context.Context, events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
