package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/config"
	"github.com/fiterafrica/fineract-template/domain"
	"github.com/fiterafrica/fineract-template/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()
	logger.Info("storage init starting")
	ctx := context.Background()

	db, err := cfg.OpenDB()
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(logger); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	if cfg.StorageConnectionString != "" {
		var tables []string
		if cfg.CorrelationBackend == config.CorrelationTable {
			tables = append(tables, cfg.CorrelationTable)
		}
		if err := createTables(ctx, cfg.StorageConnectionString, tables); err != nil {
			logger.Fatalf("create tables: %v", err)
		}
		if err := createQueues(ctx, cfg.StorageConnectionString, []string{cfg.CommandQueue}); err != nil {
			logger.Fatalf("create queues: %v", err)
		}
	} else {
		logger.Warn("STORAGE_CONNECTION_STRING not set, skipping queues and tables")
	}

	if cfg.SeedTenant != "" {
		if err := seed(ctx, storage.NewDirectory(db), cfg.SeedTenant, cfg.SeedAdminUsername); err != nil {
			logger.Fatalf("seed: %v", err)
		}
		logger.WithField("tenant", cfg.SeedTenant).Info("seeded tenant")
	}

	logger.Info("storage init complete")
}

type tenantWriter interface {
	SaveTenant(ctx context.Context, t domain.Tenant) error
	SaveUser(ctx context.Context, tenantID string, u domain.User) error
}

// seed creates a tenant with maker-checker off and, when adminUsername is
// set, a user holding every permission including checker rights.
func seed(ctx context.Context, dir tenantWriter, tenantID, adminUsername string) error {
	if err := dir.SaveTenant(ctx, domain.Tenant{
		ID:                 tenantID,
		Name:               tenantID,
		MaxRetries:         3,
		MaxIntervalSeconds: 1,
	}); err != nil {
		return err
	}
	if adminUsername == "" {
		return nil
	}
	return dir.SaveUser(ctx, tenantID, domain.User{
		ID:          1,
		Username:    adminUsername,
		OfficeID:    1,
		Permissions: []string{domain.PermissionAllFunctions, domain.PermissionCheckerSuperUser},
	})
}

func createTables(ctx context.Context, connStr string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, queueAlreadyExists) {
			return err
		}
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
