package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-normalizer/internal/app"
	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "database:\n  driver: sqlite\n  sqlite_path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNormalizeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answer.json")
	require.NoError(t, os.WriteFile(path, []byte("```json\n"+`{"lab_name":"SYNLAB","test_date":null,"biomarkers":[
		{"name":"TSH","value":4.5,"unit":"mU/l","referenceMin":0.27,"referenceMax":4.2},
		{"name":"Vitamin D","value":"n/a","unit":"ng/ml","referenceMin":30,"referenceMax":100}
	]}`+"\n```"), 0644))

	out, err := run(t, "", "normalize", path)
	require.NoError(t, err)

	var outcome struct {
		Accepted int                                      `json:"accepted"`
		Rejected int                                      `json:"rejected"`
		Results  map[string]biomarker.ClassifiedBiomarker `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, 1, outcome.Accepted)
	assert.Equal(t, 1, outcome.Rejected)
	assert.Equal(t, biomarker.StatusBorderline, outcome.Results["TSH"].Status)
}

func TestNormalizeCommandStdin(t *testing.T) {
	out, err := run(t, `[{"name":"Ferritin","value":12,"unit":"ng/ml","referenceMin":30,"referenceMax":400}]`, "normalize", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"Ferritin"`)
	assert.Contains(t, out, `"out-of-range"`)
}

func TestNormalizeCommandFailure(t *testing.T) {
	_, err := run(t, `{"lab_name":"SYNLAB"}`, "normalize", "-")
	assert.Error(t, err)

	_, err = run(t, "", "normalize")
	assert.Error(t, err)
}

func TestMatchCommand(t *testing.T) {
	out, err := run(t, "", "match", "Ferritin", "hb")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "exact")
	assert.Contains(t, lines[1], "Minerals")
	assert.Contains(t, lines[2], "none")
	assert.Contains(t, lines[2], "Metabolism")
}

func TestTaxonomyListCommand(t *testing.T) {
	out, err := run(t, "", "taxonomy", "list", "--system", "Liver")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Liver ("))
	assert.Contains(t, out, "  GGT\n")
	assert.NotContains(t, out, "Blood")

	_, err = run(t, "", "taxonomy", "list", "--system", "Skin")
	assert.Error(t, err)
}

func TestMigrateRejectsSQLite(t *testing.T) {
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "db.sqlite"))
	_, err := run(t, "", "--config", cfgPath, "migrate", "up")
	assert.Error(t, err)
}

func TestCorrectionsExportImport(t *testing.T) {
	ctx := context.Background()
	srcDB := filepath.Join(t.TempDir(), "src.sqlite")
	srcCfg := writeConfig(t, srcDB)

	logger, err := app.NewLogger(domain.LoggingConfig{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	stores, err := app.OpenStores(ctx, &domain.Config{Database: domain.DatabaseConfig{
		Driver: domain.DatabaseDriverSQLite, SQLitePath: srcDB,
	}}, logger)
	require.NoError(t, err)
	require.NoError(t, stores.Corrections.Save(ctx, &review.Correction{
		TestResultID:    "tr-1",
		Biomarker:       "TSH",
		ComputedStatus:  biomarker.StatusBorderline,
		CorrectedStatus: biomarker.StatusBorderline,
		Agreed:          true,
	}))
	require.NoError(t, stores.Corrections.Save(ctx, &review.Correction{
		TestResultID:    "tr-1",
		Biomarker:       "Ferritin",
		ComputedStatus:  biomarker.StatusInRange,
		CorrectedStatus: biomarker.StatusOutOfRange,
	}))
	require.NoError(t, stores.Close())

	exportPath := filepath.Join(t.TempDir(), "corrections.json")
	_, err = run(t, "", "--config", srcCfg, "corrections", "export", "-o", exportPath)
	require.NoError(t, err)

	var export review.CorrectionExport
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 2, export.Count)

	dstCfg := writeConfig(t, filepath.Join(t.TempDir(), "dst.sqlite"))
	out, err := run(t, "", "--config", dstCfg, "corrections", "import", exportPath)
	require.NoError(t, err)
	assert.Equal(t, "Imported 2 corrections, skipped 0\n", out)

	out, err = run(t, "", "--config", dstCfg, "corrections", "import", exportPath)
	require.NoError(t, err)
	assert.Equal(t, "Imported 0 corrections, skipped 2\n", out)

	out, err = run(t, "", "--config", dstCfg, "corrections", "stats")
	require.NoError(t, err)
	assert.Equal(t, "Corrections: 2\nAgreement: 50.0%\n", out)
}

func TestMCPInstallStatusUninstall(t *testing.T) {
	dir := t.TempDir()
	clientCfg := filepath.Join(dir, "client.json")
	binary := filepath.Join(dir, "mcp-server")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	out, err := run(t, "", "mcp", "install", "--client-config", clientCfg, "--binary", binary, "--corrections-db", "/tmp/c.db")
	require.NoError(t, err)
	assert.Equal(t, "Registered biomarker-normalizer: "+binary+"\n", out)

	out, err = run(t, "", "mcp", "status", "--client-config", clientCfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered: true\n")
	assert.NotContains(t, out, "!")

	out, err = run(t, "", "mcp", "uninstall", "--client-config", clientCfg)
	require.NoError(t, err)
	assert.Equal(t, "Removed biomarker-normalizer\n", out)

	out, err = run(t, "", "mcp", "uninstall", "--client-config", clientCfg)
	require.NoError(t, err)
	assert.Equal(t, "biomarker-normalizer is not registered\n", out)
}
