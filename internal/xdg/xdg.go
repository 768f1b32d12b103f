// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for authd.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "authd"

// ConfigFileName is the file looked up inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for authd.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// FindConfigFile returns ConfigFile when it exists. A missing file is not an
// error; ("", nil) is returned.
func FindConfigFile() (string, error) {
	path := ConfigFile()
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Wrap(err)
	}
	if info.IsDir() {
		return "", oops.Code("CONFIG_FILE_UNREADABLE").With("path", path).Errorf("%s is a directory", path)
	}
	return path, nil
}
