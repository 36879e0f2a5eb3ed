// Command table-init creates the documents table of a SQL document store.
package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/sql"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
)

// getConfig reads the database settings from the environment.
func getConfig() (*sql.Options, error) {
	v := config.NewViper()
	// Firestore needs no tables; default to the server database.
	v.SetDefault("docstore_backend", config.DocstorePostgres)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	return &sql.Options{
		Type:                   cfg.DocstoreBackend,
		Path:                   cfg.DBPath,
		Host:                   cfg.DBHost,
		Port:                   cfg.DBPort,
		User:                   cfg.DBUser,
		Password:               cfg.DBPassword,
		Name:                   cfg.DBName,
		SSLMode:                cfg.DBSSLMode,
		InstanceConnectionName: cfg.DBInstanceConnectionName,
		Verbose:                true,
	}, nil
}

// run connects with the connector built by connectorFactory and migrates the database.
func run(ctx context.Context, opts *sql.Options, connectorFactory func(sql.Options) (sql.DBConnector, error),
	migrator func(*gorm.DB) error) error {
	if opts.Type == config.DocstoreFirestore {
		return fmt.Errorf("%s has no tables to create", config.DocstoreFirestore)
	}
	connector, err := connectorFactory(*opts)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	db, err := connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrator(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.NewLogger(ctx).Info("database migrated", zap.String("type", opts.Type))
	return nil
}

func migrateDatabase(db *gorm.DB) error {
	return docstore.Migrate(db)
}

func main() {
	ctx := context.Background()
	logger := log.NewLogger(ctx)
	defer log.Sync(logger)

	opts, err := getConfig()
	if err != nil {
		logger.Fatalf("failed to read configuration", zap.Error(err))
	}
	if err := run(ctx, opts, sql.CreateDBConnector, migrateDatabase); err != nil {
		logger.Fatalf("failed to set up database", zap.Error(err))
	}
}
