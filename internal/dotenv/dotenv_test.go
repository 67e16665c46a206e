package dotenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	require.NoError(t, LoadFile(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"COACH_TEST_FROM_FILE=loaded\n" +
		"COACH_TEST_QUOTED=\"hello world\"\n" +
		"export COACH_TEST_EXPORTED=ok\n" +
		"COACH_TEST_EXISTING=from_file\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Setenv("COACH_TEST_EXISTING", "already_set")
	for _, k := range []string{"COACH_TEST_FROM_FILE", "COACH_TEST_QUOTED", "COACH_TEST_EXPORTED"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	require.NoError(t, LoadFile(envPath))

	assert.Equal(t, "loaded", os.Getenv("COACH_TEST_FROM_FILE"))
	assert.Equal(t, "hello world", os.Getenv("COACH_TEST_QUOTED"))
	assert.Equal(t, "ok", os.Getenv("COACH_TEST_EXPORTED"))
	assert.Equal(t, "already_set", os.Getenv("COACH_TEST_EXISTING"), "existing values are preserved")
}

func TestLoadFile_DirectoryIsError(t *testing.T) {
	assert.Error(t, LoadFile(t.TempDir()))
}
