// Package envfile inspects the environment file read by the collaborator
// service. Values are never returned, only key names.
package envfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/joho/godotenv"
)

// Credential keys the FPL service reads from its environment
const (
	KeyEmail    = "FPL_EMAIL"
	KeyPassword = "FPL_PASSWORD"
	KeyTeamID   = "FPL_TEAM_ID"
)

// CredentialKeys lists the keys the service needs to authenticate against FPL
var CredentialKeys = []string{KeyEmail, KeyPassword, KeyTeamID}

// Report describes an environment file without exposing its values
type Report struct {
	Path    string   `json:"path" yaml:"path"`
	Present bool     `json:"present" yaml:"present"`
	Keys    []string `json:"keys,omitempty" yaml:"keys,omitempty"`
	// Missing lists credential keys that are absent or empty
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	// WorldReadable is set when other users can read the file
	WorldReadable bool `json:"worldReadable,omitempty" yaml:"worldReadable,omitempty"`
}

// Complete reports whether the file exists and defines every credential key
func (r *Report) Complete() bool {
	return r.Present && len(r.Missing) == 0
}

// Inspect parses the file at path. A missing file is reported with
// Present=false and is not an error.
func Inspect(path string) (*Report, error) {
	report := &Report{Path: path}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		report.Missing = slices.Clone(CredentialKeys)
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat environment file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("environment file %s is a directory", path)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment file %s: %w", path, err)
	}

	report.Present = true
	report.WorldReadable = info.Mode().Perm()&0o004 != 0
	for key := range values {
		report.Keys = append(report.Keys, key)
	}
	slices.Sort(report.Keys)

	for _, key := range CredentialKeys {
		if values[key] == "" {
			report.Missing = append(report.Missing, key)
		}
	}
	return report, nil
}
