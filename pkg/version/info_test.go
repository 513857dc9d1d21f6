package version

import (
	"runtime"
	"strings"
	"testing"
)

func stashGlobals(t *testing.T) {
	t.Helper()
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})
}

func TestCurrentDefaults(t *testing.T) {
	stashGlobals(t)
	AppVersion, GitCommit, BuildTime = "", "", ""

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != "dev" {
		t.Fatalf("expected version dev, got %q", info.Version)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), info.GoVersion)
	}
}

func TestCurrentStampedValues(t *testing.T) {
	stashGlobals(t)
	AppVersion = " v2.1.0 "
	GitCommit = "abc1234"
	BuildTime = "2026-08-01T12:00:00Z"

	info := Current("dteflow")

	if info.Service != "dteflow" {
		t.Fatalf("unexpected service %q", info.Service)
	}
	if info.Version != "v2.1.0" {
		t.Fatalf("expected trimmed version, got %q", info.Version)
	}
	if info.Commit != "abc1234" {
		t.Fatalf("unexpected commit %q", info.Commit)
	}
}

func TestInfoString(t *testing.T) {
	info := Info{
		Service:   "dteflow",
		Version:   "v2.1.0",
		Commit:    "abc1234",
		BuildTime: "2026-08-01T12:00:00Z",
		GoVersion: "go1.25.5",
	}

	s := info.String()
	for _, want := range []string{"dteflow@v2.1.0", "commit=abc1234", "go1.25.5"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %q in %q", want, s)
		}
	}
}
