// Package config loads and merges runtime settings.
//
// Sources, in priority order (later extends or overrides earlier):
//
//  1. Global config (~/.atelier/)
//  2. XDG global config (~/.config/atelier/)
//  3. Project config (<dir>/atelier.json, <dir>/.atelier/)
//  4. ATELIER_CONFIG file
//  5. ATELIER_CONFIG_CONTENT inline JSON
//  6. Environment variables
//
// JSON files may carry comments (JSONC); .yaml files are also accepted.
// Scalars override; permission pattern lists and the command allow-list
// extend, so a project can tighten policy but never silently erase global
// deny patterns.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/atelier-dev/atelier/pkg/types"
)

// Load builds the merged configuration for a project directory. Missing
// files are skipped; a present but unparseable file is also skipped rather
// than failing startup.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[abs] {
			return
		}
		if loadFile(path, config, baseDir) == nil {
			loaded[abs] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		dir := filepath.Join(home, ".atelier")
		loadOnce(filepath.Join(dir, "atelier.json"), dir)
		loadOnce(filepath.Join(dir, "atelier.jsonc"), dir)
		loadOnce(filepath.Join(dir, "atelier.yaml"), dir)
	}

	xdg := GetPaths().Config
	loadOnce(filepath.Join(xdg, "atelier.json"), xdg)
	loadOnce(filepath.Join(xdg, "atelier.jsonc"), xdg)
	loadOnce(filepath.Join(xdg, "atelier.yaml"), xdg)

	if directory != "" {
		projectDir := filepath.Join(directory, ".atelier")
		loadOnce(filepath.Join(directory, "atelier.json"), directory)
		loadOnce(filepath.Join(directory, "atelier.jsonc"), directory)
		loadOnce(filepath.Join(projectDir, "atelier.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "atelier.jsonc"), projectDir)
		loadOnce(filepath.Join(projectDir, "atelier.yaml"), projectDir)
	}

	if path := os.Getenv("ATELIER_CONFIG"); path != "" {
		loadOnce(path, filepath.Dir(path))
	}

	if content := os.Getenv("ATELIER_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err == nil {
			merge(config, &inline)
		}
	}

	applyEnvOverrides(config)

	if config.MaxSessions <= 0 {
		config.MaxSessions = types.DefaultMaxSessions
	}
	return config, nil
}

func loadFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig types.Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	} else {
		data = jsonc.ToJSON(data)
		data = interpolate(data, baseDir)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	merge(config, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR} placeholders inside JSON config text.
func interpolate(data []byte, _ string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// merge folds source into target. Scalars override; permission and
// allow-list entries extend.
func merge(target, source *types.Config) {
	if source.Provider != "" {
		target.Provider = source.Provider
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Temperature != 0 {
		target.Temperature = source.Temperature
	}
	if source.MaxTokens != 0 {
		target.MaxTokens = source.MaxTokens
	}
	if source.MaxSessions != 0 {
		target.MaxSessions = source.MaxSessions
	}
	if source.Permission != nil {
		target.Permission = target.Permission.Extend(source.Permission)
	}
	if len(source.AllowedCommands) > 0 {
		seen := make(map[string]bool, len(target.AllowedCommands))
		for _, cmd := range target.AllowedCommands {
			seen[cmd] = true
		}
		for _, cmd := range source.AllowedCommands {
			if !seen[cmd] {
				target.AllowedCommands = append(target.AllowedCommands, cmd)
				seen[cmd] = true
			}
		}
	}
}

func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("ATELIER_PROVIDER"); v != "" {
		config.Provider = v
	}
	if v := os.Getenv("ATELIER_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("ATELIER_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxSessions = n
		}
	}
	if v := os.Getenv("ATELIER_ALLOWED_COMMANDS"); v != "" {
		extra := &types.Config{}
		for _, cmd := range strings.Split(v, ",") {
			if cmd = strings.TrimSpace(cmd); cmd != "" {
				extra.AllowedCommands = append(extra.AllowedCommands, cmd)
			}
		}
		merge(config, extra)
	}
}
