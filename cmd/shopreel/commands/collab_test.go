package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teranos/shopreel/am"
)

func TestOrchestratorConfigFromAm(t *testing.T) {
	cfg := &am.Config{}
	cfg.Pipeline.MaxPollAttempts = 12
	cfg.Pipeline.PollIntervalSeconds = 5
	cfg.Pipeline.MaxRemediationRounds = 1

	oc := orchestratorConfigFromAm(cfg)

	if oc.MaxPollAttempts != 12 {
		t.Errorf("MaxPollAttempts = %d, want 12", oc.MaxPollAttempts)
	}
	if oc.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", oc.PollInterval)
	}
	if oc.MaxRemediationRounds != 1 {
		t.Errorf("MaxRemediationRounds = %d, want 1", oc.MaxRemediationRounds)
	}
}

func TestOrchestratorConfigZeroRemediationRoundsKept(t *testing.T) {
	// 0 is a deliberate setting: fail on the first policy rejection.
	cfg := &am.Config{}
	cfg.Pipeline.MaxRemediationRounds = 0

	if oc := orchestratorConfigFromAm(cfg); oc.MaxRemediationRounds != 0 {
		t.Errorf("MaxRemediationRounds = %d, want 0", oc.MaxRemediationRounds)
	}
}

// storageConfig points the asset publisher at a local fake endpoint.
func storageConfig(endpoint string) *am.Config {
	cfg := &am.Config{}
	cfg.Storage.Endpoint = strings.TrimPrefix(endpoint, "http://")
	cfg.Storage.Bucket = "shopreel-media"
	return cfg
}

func TestBuildCollaboratorsEnsuresBucket(t *testing.T) {
	// Speaks just enough S3 for the startup path: bucket location,
	// existence probe (missing), and bucket creation.
	var madeBucket bool
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Has("location"):
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut:
			madeBucket = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer fake.Close()

	if _, err := buildCollaborators(context.Background(), storageConfig(fake.URL), nil, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !madeBucket {
		t.Error("startup must create the missing bucket before the first job publishes")
	}
}

func TestBuildCollaboratorsFailsFastOnUnreachableStorage(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer fake.Close()

	_, err := buildCollaborators(context.Background(), storageConfig(fake.URL), nil, 0)
	if err == nil {
		t.Fatal("expected startup to fail when storage is unreachable")
	}
	if !strings.Contains(err.Error(), "storage bucket unavailable") {
		t.Errorf("expected the bucket error, got: %v", err)
	}
}

func TestResolveDatabasePathExplicit(t *testing.T) {
	if got := resolveDatabasePath("/tmp/custom.db"); got != "/tmp/custom.db" {
		t.Errorf("explicit path should win, got %q", got)
	}
}
