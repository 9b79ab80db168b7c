package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywedge/internal/decode/gs1"
	"keywedge/internal/scanner"
	"keywedge/internal/schemavalidation"
	"keywedge/internal/store"
)

// setup writes a config file keeping the history in a temp dir and
// captures command output.
func setup(t *testing.T, scannerSection string) (*bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "scans.db")
	cfg := scannerSection + `
[decoder]
kind = "gs1"
function_codes = ["<sep>"]

[storage]
enabled = true
path = "` + dbPath + `"
retention_days = 30
`
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))

	var out bytes.Buffer
	oldPath, oldJSON, oldOut := *configPath, *jsonOutput, stdout
	*configPath, *jsonOutput, stdout = path, false, &out
	t.Cleanup(func() { *configPath, *jsonOutput, stdout = oldPath, oldJSON, oldOut })
	return &out, dbPath
}

func seedHistory(t *testing.T, dbPath string) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	dec := gs1.NewDecoder("<sep>")
	now := time.Now()
	for _, r := range []*scanner.Result{
		{ID: "old", Scanned: "0100681599063722<sep>10OLD", At: now.AddDate(0, 0, -60), Strategy: scanner.StrategyGap},
		{ID: "new", Scanned: "0100681599063722<sep>10NEW", At: now, Strategy: scanner.StrategySuffix},
	} {
		r.Parsed = dec.Decode(r.Scanned)
		require.NoError(t, st.Insert(context.Background(), r))
	}
}

func TestDecodeCommand(t *testing.T) {
	out, _ := setup(t, "")

	require.NoError(t, runCommand("decode", []string{"4000136896GDM<sep>0100681599063722<sep>3010"}))
	assert.Contains(t, out.String(), "(400)0136896GDM(01)00681599063722(30)10")
	assert.Contains(t, out.String(), "  30: 10")

	out.Reset()
	*jsonOutput = true
	require.NoError(t, runCommand("decode", []string{"0100681599063722"}))
	var p map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &p))
	assert.Contains(t, p, "2D")
}

func TestSimulateSuffix(t *testing.T) {
	out, _ := setup(t, "[scanner]\nsuffix_keys = [\"Enter\"]\n")
	*jsonOutput = true

	keys := append(strings.Split("0100681599063722", ""), "Enter", "9")
	require.NoError(t, runCommand("simulate", keys))

	var results []scanner.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2, "the suffix completes one scan and the final flush another")
	assert.Equal(t, scanner.StrategySuffix, results[0].Strategy)
	assert.Equal(t, "0100681599063722Enter", results[0].Scanned)
	assert.True(t, results[0].Parsed.IsStructured())
	assert.Equal(t, "9", results[1].Scanned)
}

func TestSimulateGapStartsOver(t *testing.T) {
	out, _ := setup(t, "")
	require.NoError(t, runCommand("simulate", []string{"-interval", "100ms", "1", "2", "3"}))
	assert.Contains(t, out.String(), "strategy: gap")
	assert.Contains(t, out.String(), `"3"`)
	assert.NotContains(t, out.String(), `"123"`)
}

func TestSimulateExcludedOrigin(t *testing.T) {
	out, _ := setup(t, "")
	require.NoError(t, runCommand("simulate", []string{"-origin", "INPUT", "1", "2"}))
	assert.Contains(t, out.String(), "rejected keys: 2")
	assert.Contains(t, out.String(), "(no scans)")
}

func TestSimulateUsage(t *testing.T) {
	setup(t, "")
	assert.ErrorIs(t, runCommand("simulate", nil), errUsage)
	assert.ErrorIs(t, runCommand("simulate", []string{"-interval", "soon", "1"}), errUsage)
}

func TestHistoryCommands(t *testing.T) {
	out, dbPath := setup(t, "")
	seedHistory(t, dbPath)

	require.NoError(t, runCommand("history", nil))
	text := out.String()
	assert.Less(t, strings.Index(text, "new"), strings.Index(text, "old"), "newest first")

	out.Reset()
	require.NoError(t, runCommand("show", []string{"old"}))
	assert.Contains(t, out.String(), "10: OLD")

	assert.ErrorIs(t, runCommand("show", []string{"missing"}), store.ErrNotFound)

	out.Reset()
	*jsonOutput = true
	require.NoError(t, runCommand("find", []string{"10", "NEW"}))
	var found []scanner.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "new", found[0].ID)

	export := filepath.Join(t.TempDir(), "found.json")
	require.NoError(t, os.WriteFile(export, out.Bytes(), 0600))
	out.Reset()
	require.NoError(t, runCommand("validate", []string{export}))
	assert.Contains(t, out.String(), ": OK")

	out.Reset()
	*jsonOutput = false
	require.NoError(t, runCommand("prune", nil))
	assert.Contains(t, out.String(), "Removed 1 scans")

	out.Reset()
	require.NoError(t, runCommand("status", nil))
	assert.Contains(t, out.String(), "Scans:      1 (1 structured)")
	assert.Contains(t, out.String(), "Schema:")
}

func TestHistoryWithoutDatabase(t *testing.T) {
	setup(t, "")
	err := runCommand("history", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scan history")
	assert.ErrorIs(t, runCommand("history", []string{"zero"}), errUsage)
}

func TestTableCommand(t *testing.T) {
	out, _ := setup(t, "")
	require.NoError(t, runCommand("table", nil))
	assert.Contains(t, out.String(), "AI")
	assert.Contains(t, out.String(), "400")
}

func TestInitCommand(t *testing.T) {
	out, _ := setup(t, "")
	*configPath = filepath.Join(t.TempDir(), "keywedge", "config.toml")

	require.NoError(t, runCommand("init", nil))
	assert.Contains(t, out.String(), "Wrote default configuration")
	_, err := os.Stat(*configPath)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, runCommand("init", nil))
	assert.Contains(t, out.String(), "already exists")
}

func TestUnknownCommand(t *testing.T) {
	setup(t, "")
	assert.Error(t, runCommand("frobnicate", nil))
	assert.ErrorIs(t, runCommand("decode", nil), errUsage)
	assert.ErrorIs(t, runCommand("find", []string{"01"}), errUsage)
	assert.ErrorIs(t, runCommand("validate", nil), errUsage)
}

func TestValidateRejectsBadExport(t *testing.T) {
	setup(t, "")
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","strategy":"laser"}]`), 0600))
	assert.ErrorIs(t, runCommand("validate", []string{path}), schemavalidation.ErrInvalidDocument)
}
