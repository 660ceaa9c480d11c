package cli

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/shelf/internal/paths"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// Config keys in config.yaml.
const (
	cfgKeyBackend = "backend"
	cfgKeyDataDir = "data_dir"
	cfgKeyDBName  = "db_name"
	cfgKeyDSN     = "dsn"
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir,omitempty"`
	DBName  string `yaml:"db_name,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

// settings is the resolved configuration of one command invocation.
type settings struct {
	configDir string
	store     types.Config
}

// loadSettings resolves the directories and reads config.yaml with viper.
// A missing config.yaml is not an error; the sqlite backend is assumed.
// SHELF_BACKEND, SHELF_DB_NAME and SHELF_DSN override the file.
func loadSettings(flags *rootFlags) (settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return settings{}, fmt.Errorf("resolve config dir: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetEnvPrefix("shelf")
	for _, key := range []string{cfgKeyBackend, cfgKeyDBName, cfgKeyDSN} {
		if err := v.BindEnv(key); err != nil {
			return settings{}, err
		}
	}
	v.SetConfigFile(paths.ConfigFile(configDir))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		exists, statErr := paths.ConfigExists(configDir)
		if statErr != nil || exists {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	dataDir, err := paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir), configDir)
	if err != nil {
		return settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg := types.Config{
		Backend: v.GetString(cfgKeyBackend),
		DataDir: dataDir,
		DSN:     v.GetString(cfgKeyDSN),
		DBName:  v.GetString(cfgKeyDBName),
	}
	if flags.dbName != "" {
		cfg.DBName = flags.dbName
	}
	if err := cfg.Validate(); err != nil {
		return settings{}, fmt.Errorf("config %s: %w", paths.ConfigFile(configDir), err)
	}
	return settings{configDir: configDir, store: cfg}, nil
}

// writeConfigIfMissing creates config.yaml from cfg. An existing file is
// left alone; the result reports whether a file was written.
func writeConfigIfMissing(configDir string, cfg types.Config) (bool, error) {
	exists, err := paths.ConfigExists(configDir)
	if err != nil || exists {
		return false, err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}

	file := configFile{Backend: cfg.Backend, DBName: cfg.DBName, DSN: cfg.DSN}
	if cfg.Backend == types.BackendSQLite {
		file.DataDir = cfg.DataDir
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := "# shelf configuration\n"
	if err := os.WriteFile(paths.ConfigFile(configDir), append([]byte(header), data...), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
