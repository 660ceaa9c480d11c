package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirFake points the working directory lookup at dir for the test.
func chdirFake(t *testing.T, dir string) {
	t.Helper()
	orig := platformDir.getwd
	platformDir.getwd = func() (string, error) { return dir, nil }
	t.Cleanup(func() { platformDir.getwd = orig })
}

func TestDefaultDirs_Linux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-only test")
	}

	t.Run("XDG variables win", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
		t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-config/shelf", got)
		got, err = DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/xdg-data/shelf", got)
	})

	t.Run("home fallbacks", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")
		orig := platformDir.homeDir
		platformDir.homeDir = func() (string, error) { return "/home/gardener", nil }
		t.Cleanup(func() { platformDir.homeDir = orig })

		got, err := DefaultConfigDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/gardener/.config/shelf", got)
		got, err = DefaultDataDir()
		require.NoError(t, err)
		assert.Equal(t, "/home/gardener/.local/share/shelf", got)
	})
}

func TestFindProjectDir(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, DefaultConfigDirName)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, ok := FindProjectDir(nested)
	require.True(t, ok)
	assert.Equal(t, project, got)

	got, ok = FindProjectDir(root)
	require.True(t, ok)
	assert.Equal(t, project, got)

	// A file named .shelf is not a project directory.
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, DefaultConfigDirName), nil, 0o644))
	_, ok = FindProjectDir(other)
	assert.False(t, ok)
}

func TestResolveConfigDir(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, DefaultConfigDirName)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(project, 0o755))
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")

	tests := []struct {
		name string
		flag string
		env  string
		cwd  string
		want string
	}{
		{"flag wins over env", "/explicit/config", "/env/config", root, "/explicit/config"},
		{"env wins when flag empty", "", "/env/config", root, "/env/config"},
		{"project directory from a subdirectory", "", "", filepath.Join(root, "sub"), project},
		{"platform default outside a project", "", "", string(filepath.Separator), "/tmp/xdg-config/shelf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS != "linux" && tt.want == "/tmp/xdg-config/shelf" {
				t.Skip("linux-only expectation")
			}
			t.Setenv(EnvConfigDir, tt.env)
			chdirFake(t, tt.cwd)
			got, err := ResolveConfigDir(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	tests := []struct {
		name        string
		flag        string
		configValue string
		configDir   string
		env         string
		want        string
	}{
		{"flag wins over all", "/flag/data", "/config/data", "/p/.shelf", "/env/data", "/flag/data"},
		{"config value wins over env", "", "/config/data", "/p/.shelf", "/env/data", "/config/data"},
		{"relative config value", "", "db", "/p/.shelf", "", "/p/.shelf/db"},
		{"env wins over default", "", "", "/p/.shelf", "/env/data", "/env/data"},
		{"beside the project directory", "", "", "/p/.shelf", "", "/p/.shelf-db"},
		{"platform default", "", "", "/etc/shelf", "", "/tmp/xdg-data/shelf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS != "linux" && tt.want == "/tmp/xdg-data/shelf" {
				t.Skip("linux-only expectation")
			}
			t.Setenv(EnvDataDir, tt.env)
			got, err := ResolveDataDir(tt.flag, tt.configValue, tt.configDir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigExists(t *testing.T) {
	dir := t.TempDir()
	ok, err := ConfigExists(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte("backend: sqlite\n"), 0o644))
	ok, err = ConfigExists(dir)
	require.NoError(t, err)
	assert.True(t, ok)
}
