package version

import (
	"runtime"
	"strings"
	"testing"
)

// ========================================
// Get() Tests
// ========================================

func TestGet(t *testing.T) {
	info := Get()

	// Check that fields are populated
	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.Commit == "" {
		t.Error("Commit should not be empty")
	}
	if info.Date == "" {
		t.Error("Date should not be empty")
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}
	if info.Platform == "" {
		t.Error("Platform should not be empty")
	}

	// GoVersion should match runtime
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}

	// Platform should contain GOOS and GOARCH
	expectedPlatform := runtime.GOOS + "/" + runtime.GOARCH
	if info.Platform != expectedPlatform {
		t.Errorf("Platform = %q, want %q", info.Platform, expectedPlatform)
	}
}

func TestGet_DefaultValues(t *testing.T) {
	// With default build values
	info := Get()

	// Default version is "0.0.0-dev"
	if info.Version != "0.0.0-dev" && !strings.Contains(info.Version, ".") {
		t.Errorf("Version should be semver format, got %q", info.Version)
	}
}

// ========================================
// Info.String() Tests
// ========================================

func TestInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		contains []string
	}{
		{
			"clean build",
			Info{
				Version: "1.0.0",
				Commit:  "abc1234",
				Date:    "2026-02-10T09:30:00Z",
				Dirty:   false,
			},
			[]string{"1.0.0", "abc1234", "2026-02-10T09:30:00Z"},
		},
		{
			"dirty build",
			Info{
				Version: "1.0.0",
				Commit:  "abc1234",
				Date:    "2026-02-10T09:30:00Z",
				Dirty:   true,
			},
			[]string{"1.0.0", "abc1234-dirty", "2026-02-10T09:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.String()
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("String() = %q, should contain %q", got, want)
				}
			}
		})
	}
}

func TestInfo_String_Format(t *testing.T) {
	info := Info{
		Version: "1.4.2",
		Commit:  "deadbeef",
		Date:    "2026-02-10",
		Dirty:   false,
	}

	got := info.String()
	expected := "1.4.2 (deadbeef) built 2026-02-10"
	if got != expected {
		t.Errorf("String() = %q, want %q", got, expected)
	}
}

func TestInfo_String_DirtyFormat(t *testing.T) {
	info := Info{
		Version: "1.4.2",
		Commit:  "deadbeef",
		Date:    "2026-02-10",
		Dirty:   true,
	}

	got := info.String()
	expected := "1.4.2 (deadbeef-dirty) built 2026-02-10"
	if got != expected {
		t.Errorf("String() = %q, want %q", got, expected)
	}
}

// ========================================
// Info.Short() Tests
// ========================================

func TestInfo_Short(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{
			"clean version",
			Info{Version: "1.4.2", Dirty: false},
			"1.4.2",
		},
		{
			"dirty version",
			Info{Version: "1.4.2", Dirty: true},
			"1.4.2-dirty",
		},
		{
			"dev version clean",
			Info{Version: "0.0.0-dev", Dirty: false},
			"0.0.0-dev",
		},
		{
			"dev version dirty",
			Info{Version: "0.0.0-dev", Dirty: true},
			"0.0.0-dev-dirty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.Short()
			if got != tt.expected {
				t.Errorf("Short() = %q, want %q", got, tt.expected)
			}
		})
	}
}

// ========================================
// Package Variables Tests
// ========================================

func TestPackageVariables(t *testing.T) {
	// These are set at build time, but have defaults
	if Version == "" {
		t.Error("Version variable should have a default value")
	}
	if Commit == "" {
		t.Error("Commit variable should have a default value")
	}
	if Date == "" {
		t.Error("Date variable should have a default value")
	}
	// Dirty should be "false" or "true" as string
	if Dirty != "false" && Dirty != "true" {
		t.Errorf("Dirty = %q, want 'false' or 'true'", Dirty)
	}
}

// ========================================
// Dirty Flag Conversion Tests
// ========================================

func TestGet_DirtyConversion(t *testing.T) {
	// The Get() function converts Dirty string to bool
	info := Get()

	// Default Dirty is "false", so info.Dirty should be false
	if Dirty == "false" && info.Dirty {
		t.Error("Dirty should be false when package Dirty='false'")
	}
	if Dirty == "true" && !info.Dirty {
		t.Error("Dirty should be true when package Dirty='true'")
	}
}
