package cmd

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func commandNames(cmds []*cobra.Command) []string {
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name())
	}
	return names
}

// TestNewRootCmd tests the newRootCmd function.
func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()

	if diff := cmp.Diff("uds-vuln-reporter", cmd.Use); diff != "" {
		t.Errorf("cmd.Use mismatch (-want +got):\n%s", diff)
	}

	flags := []string{"log-level", "pprof-addr", "registry-creds", "docstore-backend", "db-path",
		"blobstore-backend", "blobstore-root"}
	for _, flag := range flags {
		if f := cmd.PersistentFlags().Lookup(flag); f == nil {
			t.Errorf("flag %s should be defined", flag)
		}
	}

	if diff := cmp.Diff([]string{"report", "scan", "serve", "version"}, commandNames(cmd.Commands())); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
}

func TestServeSubcommands(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"serve"})
	if err != nil {
		t.Fatalf("serve not found: %v", err)
	}
	if diff := cmp.Diff([]string{"api", "reporter", "scanner"}, commandNames(cmd.Commands())); diff != "" {
		t.Errorf("serve subcommands mismatch (-want +got):\n%s", diff)
	}
	if f := cmd.PersistentFlags().Lookup("listen-addr"); f == nil {
		t.Errorf("flag listen-addr should be defined")
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("DB_PATH", "from-env.db")
	t.Setenv("LOG_LEVEL", "warn")

	a := &app{v: config.NewViper()}
	if err := a.rootCmd().ParseFlags([]string{"--db-path", "from-flag.db"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("from-flag.db", a.v.GetString("db_path")); diff != "" {
		t.Errorf("db_path mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("warn", a.v.GetString("log_level")); diff != "" {
		t.Errorf("log_level mismatch (-want +got):\n%s", diff)
	}
}

// TestPreRunE_MissingImages tests that scan needs at least one image.
func TestPreRunE_MissingImages(t *testing.T) {
	_, err := execute(t, "scan")
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("images is required and cannot be empty", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

func TestReportNeedsScanIDs(t *testing.T) {
	_, err := execute(t, "report")
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("requires at least 1 arg(s), only received 0", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

// TestPreRunE_InvalidFlag tests the preRunE function with an invalid flag.
func TestPreRunE_InvalidFlag(t *testing.T) {
	_, err := execute(t, "--invalid-flag", "value")
	if err == nil {
		t.Errorf("expected an error but got nil")
	} else if diff := cmp.Diff("unknown flag: --invalid-flag", err.Error()); diff != "" {
		t.Errorf("error message mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "version")
	if err == nil {
		t.Errorf("expected an error but got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(versionString()+"\n", out); diff != "" {
		t.Errorf("version output mismatch (-want +got):\n%s", diff)
	}
}

func TestServeRejectsIncompleteConfig(t *testing.T) {
	t.Setenv("URL_SCANNER", "")
	t.Setenv("URL_REPORTER", "")
	_, err := execute(t, "serve", "api")
	if err == nil {
		t.Fatalf("expected an error but got nil")
	}
}
