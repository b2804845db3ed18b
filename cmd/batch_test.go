package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadsignal/intent-cli/internal/model"
	"github.com/leadsignal/intent-cli/internal/predictor"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
org_id: org-1
companies:
  - id: acme
  - id: globex
    org_id: org-2
`)

	m, err := loadManifest(path)
	require.NoError(t, err)

	entries := m.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, batchEntry{CompanyID: "acme", OrgID: "org-1"}, entries[0])
	assert.Equal(t, batchEntry{CompanyID: "globex", OrgID: "org-2"}, entries[1])
}

func TestLoadManifest_MissingCompanyID(t *testing.T) {
	path := writeManifest(t, `
org_id: org-1
companies:
  - id: acme
  - org_id: org-2
`)

	_, err := loadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no company id")
}

func TestLoadManifest_MissingOrgID(t *testing.T) {
	path := writeManifest(t, `
companies:
  - id: acme
`)

	_, err := loadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no org id")
}

func TestLoadManifest_FileMissing(t *testing.T) {
	_, err := loadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestProcessBatch_CountsOutcomes(t *testing.T) {
	entries := []batchEntry{
		{CompanyID: "scores", OrgID: "org-1"},
		{CompanyID: "empty", OrgID: "org-1"},
		{CompanyID: "breaks", OrgID: "org-1"},
	}

	var calls atomic.Int32
	err := processBatch(context.Background(), entries, 0, 2,
		func(_ context.Context, companyID, _ string) (*predictor.Outcome, error) {
			calls.Add(1)
			switch companyID {
			case "scores":
				return &predictor.Outcome{Prediction: &model.Prediction{CompanyID: companyID}}, nil
			case "empty":
				return &predictor.Outcome{Message: "no signal data available for company"}, nil
			default:
				return nil, eris.New("store unavailable")
			}
		})

	// Individual failures never abort the batch.
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestProcessBatch_AppliesLimit(t *testing.T) {
	entries := []batchEntry{
		{CompanyID: "a", OrgID: "org-1"},
		{CompanyID: "b", OrgID: "org-1"},
		{CompanyID: "c", OrgID: "org-1"},
	}

	var calls atomic.Int32
	err := processBatch(context.Background(), entries, 2, 1,
		func(context.Context, string, string) (*predictor.Outcome, error) {
			calls.Add(1)
			return &predictor.Outcome{Prediction: &model.Prediction{}}, nil
		})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProcessBatch_EmptyManifest(t *testing.T) {
	err := processBatch(context.Background(), nil, 0, 4,
		func(context.Context, string, string) (*predictor.Outcome, error) {
			t.Fatal("predict must not be called")
			return nil, nil
		})
	require.NoError(t, err)
}
