package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config describes the on-disk layout of a storage root.
//
// Levels split the hex digest into nested directory segments; the segment
// lengths must sum to the digest length so every entry has a unique path.
type Config struct {
	Algorithm string `yaml:"algorithm"`
	Levels    []int  `yaml:"levels"`
}

const (
	configFileName = "config.yml"

	// sha256 in hex.
	digestLength = 64
)

// DefaultConfig is the layout used when Init receives a zero Config.
var DefaultConfig = Config{
	Algorithm: "sha256",
	Levels:    []int{2, 62},
}

var ErrConfigMismatch = errors.New("storage: root already initialized with a different layout")

// Validate checks that the layout is usable.
func (c Config) Validate() error {
	if c.Algorithm != "sha256" {
		return fmt.Errorf("storage: unsupported algorithm %q", c.Algorithm)
	}
	if len(c.Levels) == 0 {
		return errors.New("storage: at least one level is required")
	}
	total := 0
	for _, l := range c.Levels {
		if l <= 0 {
			return fmt.Errorf("storage: invalid level size %d", l)
		}
		total += l
	}
	if total != digestLength {
		return fmt.Errorf("storage: level sizes sum to %d, want %d", total, digestLength)
	}
	return nil
}

// PathFor splits a digest into the configured directory segments.
func (c Config) PathFor(root, digest string) (string, error) {
	if len(digest) != digestLength {
		return "", fmt.Errorf("storage: digest %q has length %d, want %d", digest, len(digest), digestLength)
	}
	parts := make([]string, 0, len(c.Levels)+1)
	parts = append(parts, root)
	offset := 0
	for _, l := range c.Levels {
		parts = append(parts, digest[offset:offset+l])
		offset += l
	}
	return filepath.Join(parts...), nil
}

// Init prepares a storage root: creates the directory and records the layout.
//
// Re-initializing an existing root is allowed only with an identical layout;
// anything else would silently orphan existing entries.
func Init(root string, cfg Config) (Config, error) {
	if cfg.Algorithm == "" && cfg.Levels == nil {
		cfg = DefaultConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	existing, err := Load(root)
	if err == nil {
		if !equalConfig(existing, cfg) {
			return Config{}, ErrConfigMismatch
		}
		return existing, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return Config{}, fmt.Errorf("storage: creating root: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("storage: encoding config: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(root, configFileName), data, 0o644); err != nil {
		return Config{}, fmt.Errorf("storage: writing config: %w", err)
	}
	return cfg, nil
}

// Load reads the layout config of an initialized root.
func Load(root string) (Config, error) {
	data, err := os.ReadFile(filepath.Join(root, configFileName))
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("storage: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func equalConfig(a, b Config) bool {
	if a.Algorithm != b.Algorithm || len(a.Levels) != len(b.Levels) {
		return false
	}
	for i := range a.Levels {
		if a.Levels[i] != b.Levels[i] {
			return false
		}
	}
	return true
}

// writeFileAtomic writes by creating a temp file in the target directory and
// renaming it over the destination.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
