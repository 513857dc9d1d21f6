package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/dteflow/dteflow/pkg/config"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	want := map[string]bool{"run": false, "dlq": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing %q subcommand", name)
		}
	}
}

func TestDLQCommandTree(t *testing.T) {
	root := NewRootCommand()
	found := false

	for _, cmd := range root.Commands() {
		if cmd.Name() != "dlq" {
			continue
		}
		found = true
		subs := map[string]bool{"list": false, "retry": false, "discard": false, "purge": false}
		for _, sub := range cmd.Commands() {
			if _, ok := subs[sub.Name()]; ok {
				subs[sub.Name()] = true
			}
		}
		for name, ok := range subs {
			if !ok {
				t.Errorf("missing dlq %q subcommand", name)
			}
		}
	}
	if !found {
		t.Fatal("dlq command not registered")
	}
}

func TestVersionCommandRendersYAML(t *testing.T) {
	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}

	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("version output is not yaml: %v\n%s", err, out)
	}
	if len(decoded) == 0 {
		t.Fatal("version output is empty")
	}
}

func TestDLQCommandsRequirePostgres(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte("service:\n  name: test\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := executeCommand(t, "dlq", "list", "--config", configFile, "--env-prefix", "DTEFLOW_TEST_CLI")
	if err == nil {
		t.Fatal("expected error without postgres.url")
	}
	if !strings.Contains(err.Error(), "postgres.url") {
		t.Fatalf("expected postgres.url error, got %v", err)
	}
}

func TestRetryRequiresEntryID(t *testing.T) {
	_, err := executeCommand(t, "dlq", "retry")
	if err == nil {
		t.Fatal("expected argument error")
	}
}

func TestDiscoverKeyBundles(t *testing.T) {
	dir := t.TempDir()
	for _, path := range []string{
		"tenant-1/cert.p12",
		"tenant-2/cert.pfx",
		"loose.p12",
		"tenant-1/readme.txt",
	} {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	bundles, err := discoverKeyBundles(dir)
	if err != nil {
		t.Fatalf("discoverKeyBundles: %v", err)
	}
	if len(bundles) != 3 {
		t.Fatalf("expected 3 bundles, got %d: %+v", len(bundles), bundles)
	}

	byRef := map[string]string{}
	for _, bundle := range bundles {
		byRef[bundle.Ref] = bundle.TenantID
	}
	if byRef["tenant-1/cert.p12"] != "tenant-1" {
		t.Errorf("expected tenant from path prefix, got %q", byRef["tenant-1/cert.p12"])
	}
	if byRef["loose.p12"] != "" {
		t.Errorf("expected empty tenant for top-level bundle, got %q", byRef["loose.p12"])
	}
}

func TestNewBackendDefaultsToMemory(t *testing.T) {
	backend, err := newBackend(config.QueueConfig{Backend: config.QueueBackendMemory}, logger.NewNop())
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	defer backend.Close()
}

func TestNewAuditForwarderDisabledWithoutEndpoint(t *testing.T) {
	forwarder, err := newAuditForwarder(config.SIEMConfig{}, logger.NewNop())
	if err != nil {
		t.Fatalf("newAuditForwarder: %v", err)
	}
	if forwarder != nil {
		t.Fatalf("expected nil forwarder without endpoint, got %T", forwarder)
	}
}

func TestNewAuditForwarderBuildsSIEMSender(t *testing.T) {
	forwarder, err := newAuditForwarder(config.SIEMConfig{
		Endpoint: "https://siem.example.com/ingest",
		Token:    "secret",
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("newAuditForwarder: %v", err)
	}
	if forwarder == nil {
		t.Fatal("expected forwarder when endpoint is configured")
	}
}

func TestNewLockProviderMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	provider, err := newLockProvider(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("newLockProvider: %v", err)
	}
	defer provider.Close()
}
