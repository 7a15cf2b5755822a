package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

const correlationPartition = "correlation"

type entityTable interface {
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type correlationEntity struct {
	aztables.Entity
	StartedOn int64 `json:"StartedOn"`
}

// TableCorrelationStore tracks in-flight async commands in an Azure table,
// for deployments where the workers do not share the relational database.
type TableCorrelationStore struct {
	table entityTable
	now   func() time.Time
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

func NewTableCorrelationStore(connStr, table string) (*TableCorrelationStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableCorrelationStore{table: svc.NewClient(table), now: time.Now}, nil
}

func (s *TableCorrelationStore) Begin(ctx context.Context, correlationID string) error {
	payload, err := sonic.Marshal(correlationEntity{
		Entity:    aztables.Entity{PartitionKey: correlationPartition, RowKey: correlationID},
		StartedOn: s.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *TableCorrelationStore) End(ctx context.Context, correlationID string) error {
	_, err := s.table.DeleteEntity(ctx, correlationPartition, correlationID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *TableCorrelationStore) IsComplete(ctx context.Context, correlationID string) (bool, error) {
	_, err := s.table.GetEntity(ctx, correlationPartition, correlationID, nil)
	if err == nil {
		return false, nil
	}
	if isNotFound(err) {
		return true, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
