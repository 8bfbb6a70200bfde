// Package common provides shared utilities for riskbatch
package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Build metadata, set with -ldflags "-X github.com/bobmcallan/riskbatch/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is the build metadata reported by the CLI and /api/version.
type VersionInfo struct {
	Version string `json:"version" toml:"version"`
	Build   string `json:"build" toml:"build"`
	Commit  string `json:"commit" toml:"commit"`
}

func GetVersion() string   { return Version }
func GetBuild() string     { return Build }
func GetGitCommit() string { return GitCommit }

// GetVersionInfo returns the current build metadata.
func GetVersionInfo() VersionInfo {
	return VersionInfo{Version: Version, Build: Build, Commit: GitCommit}
}

// GetFullVersion formats every build field on one line.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// LoadVersionFromFile reads a TOML .version file next to the binary. Its values
// only fill fields that ldflags left at their defaults.
func LoadVersionFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	loadVersionFile(filepath.Join(filepath.Dir(exe), ".version"))
}

func loadVersionFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var info VersionInfo
	if err := toml.Unmarshal(data, &info); err != nil {
		return
	}
	if Version == "dev" && info.Version != "" {
		Version = info.Version
	}
	if Build == "unknown" && info.Build != "" {
		Build = info.Build
	}
	if GitCommit == "unknown" && info.Commit != "" {
		GitCommit = info.Commit
	}
}
