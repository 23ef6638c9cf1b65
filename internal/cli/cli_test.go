package cli

import (
	"testing"
)

func TestCheckAdmissionPipeline(t *testing.T) {
	result := checkAdmissionPipeline()
	if result.Status != "OK" {
		t.Fatalf("self-check failed: %s", result.Message)
	}
}

func TestCheckConfigFileAbsentIsOK(t *testing.T) {
	old := globalFlags.Config
	globalFlags.Config = "/nonexistent/config.yaml"
	defer func() { globalFlags.Config = old }()

	result := checkConfigFile()
	if result.Status != "OK" {
		t.Fatalf("absent config must not fail the check: %s", result.Message)
	}
}

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	if info.Version == "" || info.GoVersion == "" {
		t.Fatal("version info incomplete")
	}
}

func TestOutputCheckResultsFailure(t *testing.T) {
	results := []CheckResult{
		{Name: "A", Status: "OK"},
		{Name: "B", Status: "FAIL", Message: "boom"},
	}
	if err := outputCheckResults(results); err == nil {
		t.Fatal("expected error when a check fails")
	}
}
