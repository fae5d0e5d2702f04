// Package config reads and writes weft configuration. Values live in
// TOML files at two levels: a per-user file under the home directory
// and a per-checkout file inside the repository's metadata directory,
// with the checkout taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// Keys the tool itself reads. Anything else can still be stored and
// retrieved.
const (
	KeyUserName        = "user.name"                // recorded in snapshot manifests
	KeyUserEmail       = "user.email"               // recorded in snapshot manifests
	KeyReplicaId       = "replica.id"               // this checkout's replica identity
	KeyCompactInterval = "journal.compact-interval" // Go duration string
	KeySnapshotSign    = "snapshot.sign"            // "true" signs imported snapshots
)

var ErrNotSet = errors.New("config: value not set")

func globalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "weft")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func repoPath(root string) string {
	return filepath.Join(root, ".weft", "config", "config.toml")
}

func loadToml(path string) (*toml.Tree, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		tree, err := toml.TreeFromMap(map[string]interface{}{})
		if err != nil {
			return nil, fmt.Errorf("failed to create empty config: %w", err)
		}
		return tree, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return toml.LoadBytes(raw)
}

func saveToml(tree *toml.Tree, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(tree.String()), 0644)
}

// SetGlobal sets key in the per-user config file.
func SetGlobal(key, value string) error {
	path, err := globalPath()
	if err != nil {
		return err
	}
	tree, err := loadToml(path)
	if err != nil {
		return err
	}
	tree.Set(key, value)
	return saveToml(tree, path)
}

// SetRepo sets key in the repository config file under root.
func SetRepo(root, key, value string) error {
	path := repoPath(root)
	tree, err := loadToml(path)
	if err != nil {
		return err
	}
	tree.Set(key, value)
	return saveToml(tree, path)
}

// Get returns the value for key, preferring the repository config over
// the per-user one. An empty root skips the repository level. Missing
// keys return ErrNotSet.
func Get(root, key string) (string, error) {
	if root != "" {
		tree, err := loadToml(repoPath(root))
		if err == nil {
			if v := tree.Get(key); v != nil {
				return fmt.Sprintf("%v", v), nil
			}
		}
	}
	path, err := globalPath()
	if err == nil {
		tree, err := loadToml(path)
		if err == nil {
			if v := tree.Get(key); v != nil {
				return fmt.Sprintf("%v", v), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotSet, key)
}

// GetDefault is Get with a fallback for missing keys.
func GetDefault(root, key, fallback string) string {
	value, err := Get(root, key)
	if err != nil {
		return fallback
	}
	return value
}
