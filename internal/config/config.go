// Package config loads process configuration from the environment and
// command line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Roles a process can run as. Each role needs a different subset of settings.
const (
	RoleAPI      = "api"
	RoleScanner  = "scanner"
	RoleReporter = "reporter"
	RoleLocal    = "local"
)

// Document store backends.
const (
	DocstoreFirestore = "firestore"
	DocstoreSQLite    = "sqlite"
	DocstorePostgres  = "postgres"
	DocstoreCloudSQL  = "cloudsql"
)

// Blob store backends.
const (
	BlobstoreGCS        = "gcs"
	BlobstoreFilesystem = "filesystem"
)

const defaultTimeout = 300 * time.Second

var (
	errMissingSetting = errors.New("required setting is missing")
	errInvalidSetting = errors.New("invalid setting")
)

// Config is the process configuration.
type Config struct {
	URLScanner                   string   `mapstructure:"url_scanner"`
	URLReporter                  string   `mapstructure:"url_reporter"`
	BucketScans                  string   `mapstructure:"bucket_scans"`
	BucketReports                string   `mapstructure:"bucket_reports"`
	CollectionScans              string   `mapstructure:"collection_scans"`
	CollectionReports            string   `mapstructure:"collection_reports"`
	GoogleCloudProject           string   `mapstructure:"google_cloud_project"`
	GoogleApplicationCredentials string   `mapstructure:"google_application_credentials"`
	ReporterTrendWeeks           int      `mapstructure:"reporter_trend_weeks"`
	DocstoreBackend              string   `mapstructure:"docstore_backend"`
	DBPath                       string   `mapstructure:"db_path"`
	DBHost                       string   `mapstructure:"db_host"`
	DBPort                       string   `mapstructure:"db_port"`
	DBUser                       string   `mapstructure:"db_user"`
	DBPassword                   string   `mapstructure:"db_password"`
	DBName                       string   `mapstructure:"db_name"`
	DBSSLMode                    string   `mapstructure:"db_ssl_mode"`
	DBInstanceConnectionName     string   `mapstructure:"db_instance_connection_name"`
	BlobstoreBackend             string   `mapstructure:"blobstore_backend"`
	BlobstoreRoot                string   `mapstructure:"blobstore_root"`
	SnykBinary                   string   `mapstructure:"snyk_binary"`
	LatexBinary                  string   `mapstructure:"latex_binary"`
	ListenAddr                   string   `mapstructure:"listen_addr"`
	LogLevel                     string   `mapstructure:"log_level"`
	PprofAddr                    string   `mapstructure:"pprof_addr"`
	RegistryCreds                []string `mapstructure:"registry_creds"`

	RawTimeoutScanner  string `mapstructure:"timeout_scanner"`
	RawTimeoutReporter string `mapstructure:"timeout_reporter"`

	// TimeoutScanner bounds calls to the scanner service.
	TimeoutScanner time.Duration `mapstructure:"-"`
	// TimeoutReporter bounds calls to the reporter service.
	TimeoutReporter time.Duration `mapstructure:"-"`
}

// keys are the settings read from the environment, named like their variables.
var keys = []string{
	"url_scanner", "url_reporter",
	"bucket_scans", "bucket_reports",
	"collection_scans", "collection_reports",
	"google_cloud_project", "google_application_credentials",
	"reporter_trend_weeks", "timeout_scanner", "timeout_reporter",
	"docstore_backend", "db_path", "db_host", "db_port", "db_user", "db_password",
	"db_name", "db_ssl_mode", "db_instance_connection_name",
	"blobstore_backend", "blobstore_root",
	"snyk_binary", "latex_binary",
	"listen_addr", "log_level", "pprof_addr", "registry_creds",
}

// NewViper returns a viper instance with defaults and environment bindings.
// Flags bound to it with BindPFlag take precedence over the environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("reporter_trend_weeks", 24)
	v.SetDefault("timeout_scanner", "300")
	v.SetDefault("timeout_reporter", "300")
	v.SetDefault("docstore_backend", DocstoreFirestore)
	v.SetDefault("db_path", "reports.db")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_ssl_mode", "disable")
	v.SetDefault("blobstore_backend", BlobstoreGCS)
	v.SetDefault("snyk_binary", "snyk")
	v.SetDefault("latex_binary", "pdflatex")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	for _, key := range keys {
		_ = v.BindEnv(key, strings.ToUpper(key)) //nolint:errcheck
	}
	return v
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	var err error
	if cfg.TimeoutScanner, err = ParseTimeout(cfg.RawTimeoutScanner); err != nil {
		return nil, fmt.Errorf("%w: TIMEOUT_SCANNER: %w", errInvalidSetting, err)
	}
	if cfg.TimeoutReporter, err = ParseTimeout(cfg.RawTimeoutReporter); err != nil {
		return nil, fmt.Errorf("%w: TIMEOUT_REPORTER: %w", errInvalidSetting, err)
	}
	if cfg.ReporterTrendWeeks <= 0 {
		return nil, fmt.Errorf("%w: REPORTER_TREND_WEEKS must be positive", errInvalidSetting)
	}
	return &cfg, nil
}

// ParseTimeout accepts a number of seconds or a Go duration. Empty means the default.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultTimeout, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("timeout must be positive: %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive: %q", s)
	}
	return d, nil
}

// TrendWindow is the look-back of report trend plots.
func (c *Config) TrendWindow() time.Duration {
	return time.Duration(c.ReporterTrendWeeks) * 7 * 24 * time.Hour
}

// Validate checks that every setting role depends on is present.
func (c *Config) Validate(role string) error {
	var required map[string]string
	switch role {
	case RoleAPI:
		required = map[string]string{
			"URL_SCANNER":        c.URLScanner,
			"URL_REPORTER":       c.URLReporter,
			"COLLECTION_SCANS":   c.CollectionScans,
			"COLLECTION_REPORTS": c.CollectionReports,
		}
	case RoleScanner:
		required = map[string]string{
			"BUCKET_SCANS":     c.BucketScans,
			"COLLECTION_SCANS": c.CollectionScans,
		}
	case RoleReporter, RoleLocal:
		required = map[string]string{
			"BUCKET_SCANS":       c.BucketScans,
			"BUCKET_REPORTS":     c.BucketReports,
			"COLLECTION_SCANS":   c.CollectionScans,
			"COLLECTION_REPORTS": c.CollectionReports,
		}
	default:
		return fmt.Errorf("%w: unknown role %q", errInvalidSetting, role)
	}

	var errs []error
	for name, value := range required {
		if value == "" {
			errs = append(errs, fmt.Errorf("%w: %s", errMissingSetting, name))
		}
	}
	errs = append(errs, c.validateBackends()...)
	return errors.Join(errs...)
}

func (c *Config) validateBackends() []error {
	var errs []error
	switch c.DocstoreBackend {
	case DocstoreFirestore:
		if c.GoogleCloudProject == "" {
			errs = append(errs, fmt.Errorf("%w: GOOGLE_CLOUD_PROJECT", errMissingSetting))
		}
	case DocstoreSQLite, DocstorePostgres:
	case DocstoreCloudSQL:
		if c.DBInstanceConnectionName == "" {
			errs = append(errs, fmt.Errorf("%w: DB_INSTANCE_CONNECTION_NAME", errMissingSetting))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: DOCSTORE_BACKEND %q", errInvalidSetting, c.DocstoreBackend))
	}
	switch c.BlobstoreBackend {
	case BlobstoreGCS:
	case BlobstoreFilesystem:
		if c.BlobstoreRoot == "" {
			errs = append(errs, fmt.Errorf("%w: BLOBSTORE_ROOT", errMissingSetting))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: BLOBSTORE_BACKEND %q", errInvalidSetting, c.BlobstoreBackend))
	}
	return errs
}

// IsMissing reports whether err names a missing setting.
func IsMissing(err error) bool {
	return errors.Is(err, errMissingSetting)
}
