// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the optional modgraph.config.yaml project file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the project root.
const FileName = "modgraph.config.yaml"

// MaxYAMLFileSize bounds the configuration file size.
const MaxYAMLFileSize = 1 << 20

// DefaultMaxFileSizeBytes is the default per-file parse limit.
const DefaultMaxFileSizeBytes = 10 * 1024 * 1024

// ErrInvalidConfig indicates an unreadable, malformed or invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the project configuration.
//
// Every field has a default, so an absent file and an empty file are
// equivalent. Command-line flags override the loaded values.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Roots are the directories scanned for sources, relative to the project
	// root or absolute.
	Roots []string `yaml:"roots" validate:"omitempty,dive,required"`

	// Extensions are the source extensions, in resolution order.
	Extensions []string `yaml:"extensions" validate:"min=1,dive,startswith=."`

	// ExcludeDirs are directory names skipped at any depth.
	ExcludeDirs []string `yaml:"exclude_dirs" validate:"dive,required,excludesall=/"`

	// ExcludeGlobs are project-relative file globs that are not analyzed,
	// e.g. "**/*.spec.ts".
	ExcludeGlobs []string `yaml:"exclude_globs" validate:"dive,required,glob"`

	// IgnoreUnused are declaration names, or "file:name" globs, never
	// reported as unused.
	IgnoreUnused []string `yaml:"ignore_unused" validate:"dive,required,glob"`

	// MaxFileSizeBytes is the largest file that is parsed. Larger files
	// become graph nodes without imports or symbols.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" validate:"gt=0"`

	// IncludeDynamicImports turns `import("...")` into graph edges.
	IncludeDynamicImports bool `yaml:"include_dynamic_imports"`

	// IncludeCommonJS turns `require("...")` into graph edges.
	IncludeCommonJS bool `yaml:"include_commonjs"`

	// IncludeTypeOnlyImports turns `import type` into graph edges.
	IncludeTypeOnlyImports bool `yaml:"include_type_only_imports"`

	// SnapshotDir enables snapshot history when set. Relative paths are
	// resolved against the project root.
	SnapshotDir string `yaml:"snapshot_dir"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Roots:                  []string{"src"},
		Extensions:             []string{".ts", ".tsx"},
		ExcludeDirs:            []string{"node_modules", "dist", "build", "coverage", ".git", ".next"},
		ExcludeGlobs:           []string{},
		IgnoreUnused:           []string{},
		MaxFileSizeBytes:       DefaultMaxFileSizeBytes,
		IncludeCommonJS:        true,
		IncludeTypeOnlyImports: true,
	}
}

// Load reads the project configuration.
//
// Description:
//
//	If explicitPath is set that file must exist. Otherwise FileName is
//	looked up in projectRoot and defaults are used when it is absent.
//	Keys present in the file replace the defaults; absent keys keep them.
//
// Inputs:
//
//	projectRoot - Directory holding the default configuration file.
//	explicitPath - Optional path given on the command line.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Wraps ErrInvalidConfig for read, parse and validation failures.
func Load(projectRoot, explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = filepath.Join(projectRoot, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if explicitPath == "" && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Parse decodes and validates YAML configuration data over the defaults.
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: file exceeds maximum size (%d > %d)", ErrInvalidConfig, len(data), MaxYAMLFileSize)
	}

	cfg := Default()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v, err := newValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ResolveSnapshotDir returns SnapshotDir made absolute against projectRoot.
func (c *Config) ResolveSnapshotDir(projectRoot string) string {
	if c.SnapshotDir == "" || filepath.IsAbs(c.SnapshotDir) {
		return c.SnapshotDir
	}
	return filepath.Join(projectRoot, c.SnapshotDir)
}

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
		_, err := glob.Compile(fl.Field().String(), '/')
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("registering glob validation: %w", err)
	}
	return v, nil
}
