package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/fiterafrica/fineract-template/domain"
)

// azqueue allows at most 32 messages per dequeue call.
const maxDequeueBatch = 32

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
	UpdateMessage(ctx context.Context, messageID string, popReceipt string, content string, o *azqueue.UpdateMessageOptions) (azqueue.UpdateMessageResponse, error)
}

// Delivery is a command message leased from the queue.
type Delivery struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// CommandQueue carries async commands from the API to the workers.
type CommandQueue struct {
	queue queueClient
}

func NewCommandQueue(connStr, name string) (*CommandQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
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
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &CommandQueue{queue: cq}, nil
}

// Send enqueues msg.
func (q *CommandQueue) Send(ctx context.Context, msg domain.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Receive leases up to max messages, hiding them from other workers for
// visibility.
func (q *CommandQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	if max > maxDequeueBatch {
		max = maxDequeueBatch
	}
	n := int32(max)
	vis := int32(visibility / time.Second)
	opts := &azqueue.DequeueMessagesOptions{NumberOfMessages: &n}
	if vis > 0 {
		opts.VisibilityTimeout = &vis
	}
	resp, err := q.queue.DequeueMessages(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		d := Delivery{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			d.Text = *m.MessageText
		}
		if m.DequeueCount != nil {
			d.DequeueCount = *m.DequeueCount
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete removes a processed message.
func (q *CommandQueue) Delete(ctx context.Context, d Delivery) error {
	_, err := q.queue.DeleteMessage(ctx, d.ID, d.PopReceipt, nil)
	return err
}

// Extend keeps d hidden from other workers for another visibility period.
// The queue issues a new pop receipt, which replaces the one held in d.
func (q *CommandQueue) Extend(ctx context.Context, d *Delivery, visibility time.Duration) error {
	vis := int32(visibility / time.Second)
	if vis < 1 {
		vis = 1
	}
	resp, err := q.queue.UpdateMessage(ctx, d.ID, d.PopReceipt, d.Text, &azqueue.UpdateMessageOptions{VisibilityTimeout: &vis})
	if err != nil {
		return err
	}
	if resp.PopReceipt != nil {
		d.PopReceipt = *resp.PopReceipt
	}
	return nil
}
