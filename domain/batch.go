package domain

// WriteKind selects how a write is applied by the store.
type WriteKind int

const (
	// WriteCreate fails with ErrConcurrencyConflict when the document exists.
	WriteCreate WriteKind = iota
	// WriteSave replaces the document. When the document carries an ETag the
	// write only applies if the stored version still matches; otherwise it
	// is an upsert.
	WriteSave
	// WriteDelete removes the document, guarded by its ETag when set.
	WriteDelete
)

// Write is a single document mutation. Exactly one of User, List, Task is set.
type Write struct {
	Kind WriteKind
	User *User
	List *TaskList
	Task *Task
}

// ETag returns the version guard of the targeted document.
func (w Write) ETag() string {
	switch {
	case w.List != nil:
		return w.List.ETag
	case w.Task != nil:
		return w.Task.ETag
	}
	return ""
}

// Batch collects writes that the store commits all-or-nothing. All writes of
// a batch belong to the same user.
type Batch struct {
	writes []Write
}

func (b *Batch) CreateUser(u User) {
	b.writes = append(b.writes, Write{Kind: WriteCreate, User: &u})
}

func (b *Batch) CreateList(l TaskList) {
	b.writes = append(b.writes, Write{Kind: WriteCreate, List: &l})
}

func (b *Batch) SaveList(l TaskList) {
	b.writes = append(b.writes, Write{Kind: WriteSave, List: &l})
}

func (b *Batch) CreateTask(t Task) {
	b.writes = append(b.writes, Write{Kind: WriteCreate, Task: &t})
}

func (b *Batch) SaveTask(t Task) {
	b.writes = append(b.writes, Write{Kind: WriteSave, Task: &t})
}

func (b *Batch) DeleteTask(t Task) {
	b.writes = append(b.writes, Write{Kind: WriteDelete, Task: &t})
}

// Writes returns the queued writes in insertion order.
func (b *Batch) Writes() []Write {
	return b.writes
}

func (b *Batch) Len() int {
	return len(b.writes)
}
