package sql

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDBConnector(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		expectedType string
		wantErr      bool
	}{
		{
			name:         "SQLiteConnector",
			opts:         Options{Type: "sqlite", Path: "reports.db"},
			expectedType: "*sql.SQLiteConnector",
		},
		{
			name: "StandardDBConnector",
			opts: Options{
				Type: "postgres", Host: "localhost", Port: "5432",
				User: "user", Password: "password", Name: "dbname",
			},
			expectedType: "*sql.StandardDBConnector",
		},
		{
			name: "CloudSQLConnector",
			opts: Options{
				Type: "cloudsql", User: "user", Password: "password", Name: "dbname",
				InstanceConnectionName: "project:region:instance",
			},
			expectedType: "*sql.CloudSQLConnector",
		},
		{name: "sqlite without path", opts: Options{Type: "sqlite"}, wantErr: true},
		{name: "cloudsql without instance", opts: Options{Type: "cloudsql"}, wantErr: true},
		{name: "unknown type", opts: Options{Type: "mysql"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector, err := CreateDBConnector(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if gotType := fmt.Sprintf("%T", connector); gotType != tt.expectedType {
				t.Errorf("CreateDBConnector() = %v, want %v", gotType, tt.expectedType)
			}
		})
	}
}

func TestStandardDBConnectorDSN(t *testing.T) {
	c := &StandardDBConnector{host: "db", port: "5432", user: "u", password: "p", dbname: "reports"}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=reports sslmode=disable", c.dsn())
	c.sslMode = "require"
	require.Contains(t, c.dsn(), "sslmode=require")
}

func TestSQLiteConnectorConnect(t *testing.T) {
	connector, err := CreateDBConnector(Options{Type: "sqlite", Path: filepath.Join(t.TempDir(), "reports.db")})
	require.NoError(t, err)
	db, err := connector.Connect(context.Background())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	require.NoError(t, sqlDB.Close())
}
