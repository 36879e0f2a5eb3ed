package sql

import (
	"context"
	"fmt"
	"net"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

// Options selects and configures a connector.
type Options struct {
	// Type is sqlite, postgres or cloudsql.
	Type                   string
	Path                   string
	Host                   string
	Port                   string
	User                   string
	Password               string
	Name                   string
	SSLMode                string
	InstanceConnectionName string
	// Verbose logs every statement.
	Verbose bool
}

func gormConfig(verbose bool) *gorm.Config {
	mode := logger.Warn
	if verbose {
		mode = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(mode)}
}

// SQLiteConnector implements DBConnector for SQLite connections.
type SQLiteConnector struct {
	dbPath  string
	verbose bool
}

// Connect connects to the SQLite database.
func (c *SQLiteConnector) Connect(_ context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(c.dbPath), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	// SQLite allows one writer at a time.
	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return database, nil
}

// StandardDBConnector implements DBConnector for Postgres reachable over the network.
type StandardDBConnector struct {
	host     string
	port     string
	user     string
	password string
	dbname   string
	sslMode  string
	verbose  bool
}

func (c *StandardDBConnector) dsn() string {
	sslMode := c.sslMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.host, c.port, c.user, c.password, c.dbname, sslMode)
}

// Connect connects to the Postgres database.
func (c *StandardDBConnector) Connect(_ context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(c.dsn()), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres database: %w", err)
	}
	return database, nil
}

// CloudSQLConnector implements DBConnector for Cloud SQL connections.
type CloudSQLConnector struct {
	instanceConnectionName string
	user                   string
	password               string
	dbname                 string
	verbose                bool
}

// Connect connects to the database using the Cloud SQL connection.
func (c *CloudSQLConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		// Fallback to using password if IAMAuthN fails
		dialer, err = cloudsqlconn.NewDialer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create dialer: %w", err)
		}
	}

	config, err := pgx.ParseConfig(fmt.Sprintf("user=%s password=%s dbname=%s sslmode=disable",
		c.user, c.password, c.dbname))
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	config.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
		conn, err := dialer.Dial(ctx, c.instanceConnectionName)
		if err != nil {
			return nil, fmt.Errorf("failed to dial Cloud SQL instance: %w", err)
		}
		return conn, nil
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: stdlib.OpenDB(*config),
	}), gormConfig(c.verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gorm with pgx connection: %w", err)
	}
	return gormDB, nil
}

// CreateDBConnector is a factory function that returns the appropriate DBConnector.
func CreateDBConnector(opts Options) (DBConnector, error) {
	switch opts.Type {
	case "sqlite":
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite needs a database path")
		}
		return &SQLiteConnector{dbPath: opts.Path, verbose: opts.Verbose}, nil
	case "postgres":
		return &StandardDBConnector{
			host:     opts.Host,
			port:     opts.Port,
			user:     opts.User,
			password: opts.Password,
			dbname:   opts.Name,
			sslMode:  opts.SSLMode,
			verbose:  opts.Verbose,
		}, nil
	case "cloudsql":
		if opts.InstanceConnectionName == "" {
			return nil, fmt.Errorf("cloudsql needs an instance connection name")
		}
		return &CloudSQLConnector{
			instanceConnectionName: opts.InstanceConnectionName,
			user:                   opts.User,
			password:               opts.Password,
			dbname:                 opts.Name,
			verbose:                opts.Verbose,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", opts.Type)
	}
}
