package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverFile = "file"
	StoreDriverBolt = "bolt"

	defaultIdentityPassphraseEnv = "QRPASS_IDENTITY_PASSPHRASE"
	defaultStorePassphraseEnv    = "QRPASS_STORE_PASSPHRASE"
)

// Config is the resolved configuration. Relative paths are already joined with DataDir.
type Config struct {
	DataDir            string
	KeyPath            string
	PublicationPath    string
	IdentityPassphrase string
	MessagesDir        string
	StoreDriver        string
	StorePath          string
	StorePassphrase    string
	MetricsTextfile    string
	FailuresPerMinute  float64
	FailureBurst       int
}

type FileConfig struct {
	DataDir  string             `yaml:"dataDir"`
	Identity IdentityFileConfig `yaml:"identity"`
	Staging  StagingFileConfig  `yaml:"staging"`
	Store    StoreFileConfig    `yaml:"store"`
	Metrics  MetricsFileConfig  `yaml:"metrics"`
	Limits   LimitsFileConfig   `yaml:"limits"`
}

type IdentityFileConfig struct {
	KeyPath         string `yaml:"keyPath"`
	PublicationPath string `yaml:"publicationPath"`
	PassphraseEnv   string `yaml:"passphraseEnv"`
}

type StagingFileConfig struct {
	MessagesDir string `yaml:"messagesDir"`
}

type StoreFileConfig struct {
	Driver        string  `yaml:"driver"`
	Path          *string `yaml:"path"`
	PassphraseEnv string  `yaml:"passphraseEnv"`
}

type MetricsFileConfig struct {
	Textfile string `yaml:"textfile"`
}

type LimitsFileConfig struct {
	FailuresPerMinute float64 `yaml:"failuresPerMinute"`
	Burst             int     `yaml:"burst"`
}

// Default mirrors the historical files/ layout under the working directory.
func Default() FileConfig {
	store := "files/store/envelopes.json"
	return FileConfig{
		DataDir: ".",
		Identity: IdentityFileConfig{
			KeyPath:         "files/beacon/beacon.key",
			PublicationPath: "files/beacon/beacon.json",
			PassphraseEnv:   defaultIdentityPassphraseEnv,
		},
		Staging: StagingFileConfig{MessagesDir: "files/messages"},
		Store:   StoreFileConfig{Driver: StoreDriverFile, Path: &store, PassphraseEnv: defaultStorePassphraseEnv},
		Limits:  LimitsFileConfig{FailuresPerMinute: 30, Burst: 10},
	}
}

// LoadFromPath reads configPath, or the first readable default location when
// configPath is empty, then applies environment overrides.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		parsed, err := readFile(configPath)
		if err != nil {
			return Config{}, err
		}
		Merge(&cfg, parsed)
	} else {
		for _, candidate := range []string{"configs/qrpass.yaml", "qrpass.yaml"} {
			parsed, err := readFile(candidate)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return Config{}, err
			}
			Merge(&cfg, parsed)
			break
		}
	}
	ApplyEnvOverrides(&cfg)
	resolved := Resolve(cfg)
	if err := Validate(resolved); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func Validate(cfg Config) error {
	switch cfg.StoreDriver {
	case StoreDriverFile:
	case StoreDriverBolt:
		if cfg.StorePassphrase != "" {
			return errors.New("store.driver bolt does not support a store passphrase")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.StoreDriver)
	}
	if cfg.FailuresPerMinute < 0 || cfg.FailureBurst < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

func readFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return FileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return parsed, nil
}

func Merge(dst *FileConfig, src FileConfig) {
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.Identity.KeyPath != "" {
		dst.Identity.KeyPath = src.Identity.KeyPath
	}
	if src.Identity.PublicationPath != "" {
		dst.Identity.PublicationPath = src.Identity.PublicationPath
	}
	if src.Identity.PassphraseEnv != "" {
		dst.Identity.PassphraseEnv = src.Identity.PassphraseEnv
	}
	if src.Staging.MessagesDir != "" {
		dst.Staging.MessagesDir = src.Staging.MessagesDir
	}
	if src.Store.Driver != "" {
		dst.Store.Driver = src.Store.Driver
	}
	// An explicit empty store path disables the envelope store.
	if src.Store.Path != nil {
		dst.Store.Path = src.Store.Path
	}
	if src.Store.PassphraseEnv != "" {
		dst.Store.PassphraseEnv = src.Store.PassphraseEnv
	}
	if src.Metrics.Textfile != "" {
		dst.Metrics.Textfile = src.Metrics.Textfile
	}
	if src.Limits.FailuresPerMinute != 0 {
		dst.Limits.FailuresPerMinute = src.Limits.FailuresPerMinute
	}
	if src.Limits.Burst != 0 {
		dst.Limits.Burst = src.Limits.Burst
	}
}

func ApplyEnvOverrides(cfg *FileConfig) {
	if dir := strings.TrimSpace(os.Getenv("QRPASS_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}
	if keyPath := strings.TrimSpace(os.Getenv("QRPASS_KEY_PATH")); keyPath != "" {
		cfg.Identity.KeyPath = keyPath
	}
}

// Resolve turns a file config into absolute-or-DataDir-relative paths and
// reads the passphrases from the configured environment variables.
func Resolve(fc FileConfig) Config {
	dataDir := fc.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	join := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dataDir, p)
	}
	storePath := ""
	if fc.Store.Path != nil {
		storePath = join(*fc.Store.Path)
	}
	return Config{
		DataDir:            dataDir,
		KeyPath:            join(fc.Identity.KeyPath),
		PublicationPath:    join(fc.Identity.PublicationPath),
		IdentityPassphrase: envValue(fc.Identity.PassphraseEnv),
		MessagesDir:        join(fc.Staging.MessagesDir),
		StoreDriver:        strings.ToLower(strings.TrimSpace(fc.Store.Driver)),
		StorePath:          storePath,
		StorePassphrase:    envValue(fc.Store.PassphraseEnv),
		MetricsTextfile:    join(fc.Metrics.Textfile),
		FailuresPerMinute:  fc.Limits.FailuresPerMinute,
		FailureBurst:       fc.Limits.Burst,
	}
}

func envValue(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
