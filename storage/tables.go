package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

// MaxBatchSize is the entity group transaction limit of table storage.
const MaxBatchSize = 100

var errEmptyWrite = errors.New("write has no document")

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tableSubmitTransactionOptions *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables is a domain.Store backed by a single Azure table. Each user's
// documents live in one partition so a batch commits as one entity group
// transaction.
type Tables struct {
	table tableClient
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables connects to the documents table using the given connection string.
func NewTables(connStr, table string) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(table)}, nil
}

func (s *Tables) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if !validKey(userID) {
		return domain.User{}, domain.ErrNotFound
	}
	resp, err := s.table.GetEntity(ctx, userID, userRowKey, nil)
	if err != nil {
		return domain.User{}, mapReadError(err)
	}
	return decodeUser(resp.Value)
}

func (s *Tables) ListTaskLists(ctx context.Context, userID string) ([]domain.TaskList, error) {
	lists := []domain.TaskList{}
	if !validKey(userID) {
		return lists, nil
	}
	start, end := listRange()
	err := s.query(ctx, rangeFilter(userID, start, end), func(data []byte, etag string) error {
		l, err := decodeList(data, etag)
		if err != nil {
			return err
		}
		lists = append(lists, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

func (s *Tables) GetTaskList(ctx context.Context, userID, listID string) (domain.TaskList, error) {
	if !validKey(userID) || !validKey(listID) {
		return domain.TaskList{}, domain.ErrNotFound
	}
	resp, err := s.table.GetEntity(ctx, userID, listRowKey(listID), nil)
	if err != nil {
		return domain.TaskList{}, mapReadError(err)
	}
	return decodeList(resp.Value, string(resp.ETag))
}

func (s *Tables) ListTasks(ctx context.Context, userID, listID string, minOrder int) ([]domain.Task, error) {
	tasks := []domain.Task{}
	if !validKey(userID) || !validKey(listID) {
		return tasks, nil
	}
	start, end := taskRange(listID)
	filter := rangeFilter(userID, start, end)
	if minOrder > 0 {
		filter += " and Order ge " + strconv.Itoa(minOrder)
	}
	err := s.query(ctx, filter, func(data []byte, etag string) error {
		t, err := decodeTask(data, etag)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks, nil
}

func (s *Tables) GetTask(ctx context.Context, userID, listID, taskID string) (domain.Task, error) {
	if !validKey(userID) || !validKey(listID) || !validKey(taskID) {
		return domain.Task{}, domain.ErrNotFound
	}
	resp, err := s.table.GetEntity(ctx, userID, taskRowKey(listID, taskID), nil)
	if err != nil {
		return domain.Task{}, mapReadError(err)
	}
	return decodeTask(resp.Value, string(resp.ETag))
}

// Commit submits the batch as one transaction. ETag guarded writes that lost
// a race, creates of existing documents and guarded writes of vanished
// documents all report domain.ErrConcurrencyConflict.
func (s *Tables) Commit(ctx context.Context, userID string, b *domain.Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	if b.Len() > MaxBatchSize {
		return fmt.Errorf("%w: %d writes", domain.ErrBatchTooLarge, b.Len())
	}
	actions := make([]aztables.TransactionAction, 0, b.Len())
	for _, w := range b.Writes() {
		doc, err := encodeWrite(userID, w)
		if err != nil {
			return fmt.Errorf("encode write: %w", err)
		}
		actions = append(actions, transactionAction(w.Kind, doc))
	}
	if _, err := s.table.SubmitTransaction(ctx, actions, nil); err != nil {
		return mapCommitError(err)
	}
	return nil
}

func transactionAction(kind domain.WriteKind, doc document) aztables.TransactionAction {
	action := aztables.TransactionAction{Entity: doc.Body}
	switch kind {
	case domain.WriteCreate:
		action.ActionType = aztables.TransactionTypeAdd
	case domain.WriteSave:
		if doc.ETag == "" {
			action.ActionType = aztables.TransactionTypeInsertReplace
			break
		}
		etag := azcore.ETag(doc.ETag)
		action.ActionType = aztables.TransactionTypeUpdateReplace
		action.IfMatch = &etag
	case domain.WriteDelete:
		etag := azcore.ETagAny
		if doc.ETag != "" {
			etag = azcore.ETag(doc.ETag)
		}
		action.ActionType = aztables.TransactionTypeDelete
		action.IfMatch = &etag
	}
	return action
}

// query pages through all entities matching filter.
func (s *Tables) query(ctx context.Context, filter string, fn func(data []byte, etag string) error) error {
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			var meta struct {
				ETag string `json:"odata.etag"`
			}
			if err := sonic.Unmarshal(e, &meta); err != nil {
				return err
			}
			if err := fn(e, meta.ETag); err != nil {
				return err
			}
		}
	}
	return nil
}

func rangeFilter(userID, start, end string) string {
	return "PartitionKey eq " + quote(userID) +
		" and RowKey ge " + quote(start) +
		" and RowKey lt " + quote(end)
}

// quote renders an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func mapReadError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return err
}

func mapCommitError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound, http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, respErr.ErrorCode)
		}
	}
	return err
}
