package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

type fakeTable struct {
	entities  map[string][]byte
	etags     map[string]string
	pages     [][][]byte
	filters   []string
	actions   []aztables.TransactionAction
	submitErr error
	gets      int
}

func newFakeTable() *fakeTable {
	return &fakeTable{entities: map[string][]byte{}, etags: map[string]string{}}
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.gets++
	v, ok := f.entities[pk+"|"+rk]
	if !ok {
		return aztables.GetEntityResponse{}, &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
	}
	return aztables.GetEntityResponse{Value: v, ETag: azcore.ETag(f.etags[pk+"|"+rk])}, nil
}

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.filters = append(f.filters, *o.Filter)
	pages := f.pages
	next := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return next < len(pages) },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if len(pages) == 0 {
				next++
				return aztables.ListEntitiesResponse{}, nil
			}
			page := pages[next]
			next++
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(_ context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.actions = actions
	return aztables.TransactionResponse{}, f.submitErr
}

func taskJSON(listID, taskID string, order int, etag string) []byte {
	return []byte(fmt.Sprintf(`{"odata.etag":%q,"PartitionKey":"u","RowKey":%q,"Kind":"task","TaskId":%q,"ListId":%q,"Title":"t","Order":%d,"CreatedAt":"2024-05-01T10:00:00.1234567Z"}`,
		etag, taskRowKey(listID, taskID), taskID, listID, order))
}

func TestListTasksQueriesListRangeAndSorts(t *testing.T) {
	ft := newFakeTable()
	ft.pages = [][][]byte{
		{taskJSON("l1", "b", 2, "W/\"2\"")},
		{taskJSON("l1", "a", 1, "W/\"1\"")},
	}
	s := &Tables{table: ft}

	tasks, err := s.ListTasks(context.Background(), "u", "l1", 1)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	want := "PartitionKey eq 'u' and RowKey ge 'task_l1_' and RowKey lt 'task_l1`' and Order ge 1"
	if ft.filters[0] != want {
		t.Fatalf("unexpected filter:\n got %s\nwant %s", ft.filters[0], want)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("tasks not sorted by order: %#v", tasks)
	}
	if tasks[0].ETag != "W/\"1\"" || tasks[0].ListID != "l1" || tasks[0].UserID != "u" {
		t.Fatalf("unexpected decoded task: %#v", tasks[0])
	}
	if tasks[0].CreatedAt.Year() != 2024 {
		t.Fatalf("timestamp not decoded: %v", tasks[0].CreatedAt)
	}
}

func TestFilterEscapesQuotes(t *testing.T) {
	ft := newFakeTable()
	s := &Tables{table: ft}

	if _, err := s.ListTaskLists(context.Background(), "o'brien"); err != nil {
		t.Fatalf("list lists: %v", err)
	}
	if !strings.HasPrefix(ft.filters[0], "PartitionKey eq 'o''brien' and") {
		t.Fatalf("quote not escaped: %s", ft.filters[0])
	}
}

func TestGetTaskMapsNotFound(t *testing.T) {
	s := &Tables{table: newFakeTable()}
	if _, err := s.GetTask(context.Background(), "u", "l", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInvalidKeysAreNotFound(t *testing.T) {
	ft := newFakeTable()
	s := &Tables{table: ft}
	if _, err := s.GetTask(context.Background(), "u", "l", "a/b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ft.gets != 0 {
		t.Fatal("invalid keys must not reach the service")
	}
}

func TestGetTaskListUsesResponseETag(t *testing.T) {
	ft := newFakeTable()
	ft.entities["u|list_l1"] = []byte(`{"PartitionKey":"u","RowKey":"list_l1","Kind":"list","ListId":"l1","Title":"TODO","Tasks":"[\"a\",\"b\"]"}`)
	ft.etags["u|list_l1"] = "etag-1"
	s := &Tables{table: ft}

	l, err := s.GetTaskList(context.Background(), "u", "l1")
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if l.ETag != "etag-1" || len(l.Tasks) != 2 || l.Tasks[1] != "b" || l.Title != domain.ListTodo {
		t.Fatalf("unexpected list: %#v", l)
	}
}

func TestCommitBuildsGuardedTransaction(t *testing.T) {
	ft := newFakeTable()
	s := &Tables{table: ft}

	var b domain.Batch
	b.CreateTask(domain.Task{ID: "new", ListID: "l1", Order: 3})
	b.SaveTask(domain.Task{ID: "old", ListID: "l1", Order: 4, ETag: "e-old"})
	b.SaveList(domain.TaskList{ID: "l1", Title: "TODO"})
	b.DeleteTask(domain.Task{ID: "gone", ListID: "l2", ETag: "e-gone"})
	if err := s.Commit(context.Background(), "u", &b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(ft.actions) != 4 {
		t.Fatalf("expected 4 actions, got %d", len(ft.actions))
	}

	wantTypes := []aztables.TransactionType{
		aztables.TransactionTypeAdd,
		aztables.TransactionTypeUpdateReplace,
		aztables.TransactionTypeInsertReplace,
		aztables.TransactionTypeDelete,
	}
	for i, want := range wantTypes {
		if ft.actions[i].ActionType != want {
			t.Fatalf("action %d: got %v want %v", i, ft.actions[i].ActionType, want)
		}
	}
	if ft.actions[1].IfMatch == nil || *ft.actions[1].IfMatch != "e-old" {
		t.Fatalf("save must be guarded by the read etag")
	}
	if ft.actions[2].IfMatch != nil {
		t.Fatalf("unguarded save must not carry an etag")
	}
	if ft.actions[3].IfMatch == nil || *ft.actions[3].IfMatch != "e-gone" {
		t.Fatalf("delete must be guarded by the read etag")
	}

	var ent map[string]any
	if err := sonic.Unmarshal(ft.actions[0].Entity, &ent); err != nil {
		t.Fatalf("decode entity: %v", err)
	}
	if ent["PartitionKey"] != "u" || ent["RowKey"] != "task_l1_new" || ent["CreatedAt@odata.type"] != "Edm.DateTime" {
		t.Fatalf("unexpected entity: %v", ent)
	}
	var list map[string]any
	if err := sonic.Unmarshal(ft.actions[2].Entity, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list["Tasks"] != "[]" {
		t.Fatalf("empty list must store an empty array, got %v", list["Tasks"])
	}
}

func TestCommitMapsConflicts(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusPreconditionFailed, http.StatusNotFound} {
		ft := newFakeTable()
		ft.submitErr = &azcore.ResponseError{StatusCode: status, ErrorCode: "UpdateConditionNotSatisfied"}
		s := &Tables{table: ft}

		var b domain.Batch
		b.SaveTask(domain.Task{ID: "t", ListID: "l", ETag: "e"})
		if err := s.Commit(context.Background(), "u", &b); !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("status %d: expected conflict, got %v", status, err)
		}
	}
}

func TestCommitPassesThroughOtherErrors(t *testing.T) {
	ft := newFakeTable()
	ft.submitErr = &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable}
	s := &Tables{table: ft}

	var b domain.Batch
	b.SaveTask(domain.Task{ID: "t", ListID: "l"})
	err := s.Commit(context.Background(), "u", &b)
	if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected a plain error, got %v", err)
	}
}

func TestCommitRejectsOversizedBatch(t *testing.T) {
	ft := newFakeTable()
	s := &Tables{table: ft}

	var b domain.Batch
	for i := 0; i <= MaxBatchSize; i++ {
		b.SaveTask(domain.Task{ID: fmt.Sprint(i), ListID: "l"})
	}
	if err := s.Commit(context.Background(), "u", &b); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected batch too large, got %v", err)
	}
	if ft.actions != nil {
		t.Fatal("oversized batch must not be submitted")
	}
}
