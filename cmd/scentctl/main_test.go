package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "fragrances": [
    {"id": "frag-dior-sauvage", "brand": "Dior", "name": "Sauvage", "gender": "masculine", "family": "Aromatic", "notes": ["bergamot", "ambroxan"]},
    {"id": "frag-coach-dreams", "brand": "Coach", "name": "Dreams", "gender": "feminine", "family": "Floral"}
  ],
  "variants": [
    {"canonical_id": "frag-dior-sauvage", "name": "Savage Dior", "confidence": 0.8},
    {"canonical_id": "frag-missing", "name": "Ghost"}
  ]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SCENTMATCH_DATABASE_DRIVER", "sqlite")
	t.Setenv("SCENTMATCH_DATABASE_DSN", "file:"+filepath.Join(dir, "scentmatch.db"))
	t.Setenv("SCENTMATCH_LOG_LEVEL", "error")

	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))
	return path
}

func TestImportCommand(t *testing.T) {
	catalog := setupEnv(t)

	out, err := execute(t, "import", catalog)
	require.NoError(t, err)
	assert.Contains(t, out, "fragrances:        2")
	assert.Contains(t, out, "variants:          1")
	assert.Contains(t, out, "rejected variants: 1")

	t.Run("reimport is idempotent", func(t *testing.T) {
		out, err := execute(t, "import", catalog, "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"fragrances":2`)
		jsonOutput = false
	})

	t.Run("embed without providers fails", func(t *testing.T) {
		_, err := execute(t, "import", catalog, "--embed")
		importEmbed = false
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding provider")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "import", filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})
}

func TestMissingCommands(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "missing", "top")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "priority")

	t.Run("unknown query", func(t *testing.T) {
		_, err := execute(t, "missing", "status", "Coach For Men", "sourced")
		require.Error(t, err)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := execute(t, "missing", "status", "Coach For Men", "bogus")
		require.Error(t, err)
	})
}
