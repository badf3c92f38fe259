package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "metadata:\n  base_url: http://localhost:8080\nconsumer:\n  store_name: widgets\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		t.Fatal("expected default broker list to be applied")
	}
	if cfg.Consumer.StoreName != "widgets" {
		t.Fatalf("got %q", cfg.Consumer.StoreName)
	}
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("got %T", err)
	}
	if len(verr.Errors) < 3 {
		t.Fatalf("expected multiple accumulated errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
