package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

const (
	defaultQueueConcurrency = 8
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue sends activity events to an Azure storage queue.
type EventQueue struct {
	queue       queueClient
	concurrency int
}

// NewEventQueue connects to the named queue. The number of in-flight sends
// per call scales with cpu.
func NewEventQueue(connStr, name string, cpu int) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q, concurrency: queueConcurrencyForCPU(cpu)}, nil
}

// Concurrency reports the per-call send limit.
func (q *EventQueue) Concurrency() int {
	return q.concurrency
}

// Send enqueues every event as one JSON message. The first failure is
// returned after all sends finished.
func (q *EventQueue) Send(ctx context.Context, events []domain.Event) error {
	limit := q.concurrency
	if limit < 1 {
		limit = 1
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		sem      = make(chan struct{}, limit)
	)
	msgs := make([]string, len(events))
	for i, ev := range events {
		data, err := sonic.MarshalString(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		msgs[i] = data
	}
	for _, data := range msgs {
		sem <- struct{}{}
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := q.queue.EnqueueMessage(ctx, msg, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(data)
	}
	wg.Wait()
	return firstErr
}
