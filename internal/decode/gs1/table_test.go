package gs1

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	assert.Equal(t, 18, table.Len())

	e, ok := table.Get("01")
	require.True(t, ok)
	assert.Equal(t, Entry{Code: "01", Purpose: "GTIN-14", Length: 14}, e)

	e, ok = table.Get("400")
	require.True(t, ok)
	assert.True(t, e.Variable)
	assert.Equal(t, 30, e.Length)

	for _, e := range table.Entries() {
		assert.NoError(t, e.Validate(), e.Code)
	}
}

func TestTableLookupOrder(t *testing.T) {
	e, ok := DefaultTable().Lookup("4001234")
	require.True(t, ok)
	assert.Equal(t, "400", e.Code)

	_, ok = DefaultTable().Lookup("4")
	assert.False(t, ok)

	_, ok = DefaultTable().Lookup("")
	assert.False(t, ok)
}

func TestEntriesSorted(t *testing.T) {
	entries := DefaultTable().Entries()
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Code, entries[i].Code)
	}
}

func TestEntryValidate(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		ok    bool
	}{
		{"two digits", Entry{Code: "01", Length: 14}, true},
		{"four digits", Entry{Code: "7003", Length: 10}, true},
		{"too short", Entry{Code: "1", Length: 1}, false},
		{"too long", Entry{Code: "12345", Length: 1}, false},
		{"non numeric", Entry{Code: "0A", Length: 1}, false},
		{"zero length", Entry{Code: "01", Length: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTable))
			}
		})
	}
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	_, err := NewTable([]Entry{{Code: "01", Length: 1}, {Code: "01", Length: 2}})
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestMergeOverrides(t *testing.T) {
	merged, err := DefaultTable().Merge([]Entry{
		{Code: "01", Purpose: "Custom GTIN", Length: 8},
		{Code: "240", Purpose: "Additional ID", Length: 30, Variable: true},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultTable().Len()+1, merged.Len())

	e, _ := merged.Get("01")
	assert.Equal(t, 8, e.Length)

	// stock table is untouched
	e, _ = DefaultTable().Get("01")
	assert.Equal(t, 14, e.Length)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadTableTOML(t *testing.T) {
	path := writeFile(t, "ai.toml", `
[[identifiers]]
code = "240"
purpose = "Additional ID"
length = 30
variable = true
`)
	table, err := LoadTable(path)
	require.NoError(t, err)
	e, ok := table.Get("240")
	require.True(t, ok)
	assert.Equal(t, Entry{Code: "240", Purpose: "Additional ID", Length: 30, Variable: true}, e)
	assert.Equal(t, DefaultTable().Len()+1, table.Len())
}

func TestLoadTableJSONReplace(t *testing.T) {
	path := writeFile(t, "ai.json", `{"replace": true, "identifiers": [{"code": "99", "length": 4}]}`)
	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	_, ok := table.Get("01")
	assert.False(t, ok)
}

func TestLoadTableYAML(t *testing.T) {
	path := writeFile(t, "ai.yaml", `
identifiers:
  - code: "7003"
    purpose: Expiration Date and Time
    length: 10
`)
	table, err := LoadTable(path)
	require.NoError(t, err)
	e, ok := table.Get("7003")
	require.True(t, ok)
	assert.Equal(t, 10, e.Length)
}

func TestLoadTableSchemaViolation(t *testing.T) {
	tests := map[string]string{
		"short code":    `{"identifiers": [{"code": "1", "length": 4}]}`,
		"missing field": `{"identifiers": [{"code": "12"}]}`,
		"unknown key":   `{"identifiers": [], "extra": 1}`,
		"bad length":    `{"identifiers": [{"code": "12", "length": 0}]}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(writeFile(t, "ai.json", content))
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestLoadTableErrors(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadTable(writeFile(t, "ai.ini", "x"))
	assert.Error(t, err)

	_, err = LoadTable(writeFile(t, "ai.json", "{"))
	assert.Error(t, err)
}
