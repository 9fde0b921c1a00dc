package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSatisfies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		version    string
		constraint string
		expected   bool
		wantErr    bool
	}{
		{name: "python output newer", version: "Python 3.11.4", constraint: ">= 3.10", expected: true},
		{name: "python output equal", version: "Python 3.10.0", constraint: ">= 3.10", expected: true},
		{name: "python output older", version: "Python 3.9.18", constraint: ">= 3.10", expected: false},
		{name: "bare version", version: "3.12", constraint: ">= 3.10, < 4", expected: true},
		{name: "trailing newline", version: "Python 3.12.1\n", constraint: ">= 3.10", expected: true},
		{name: "major too new", version: "4.0.0", constraint: ">= 3.10, < 4", expected: false},
		{name: "release candidate", version: "Python 3.13.0rc1", constraint: ">= 3.10", expected: true},
		{name: "alpha of an old line", version: "Python 3.9.0a4", constraint: ">= 3.10", expected: false},
		{name: "no version in output", version: "command not found", constraint: ">= 3.10", wantErr: true},
		{name: "empty output", version: "", constraint: ">= 3.10", wantErr: true},
		{name: "invalid constraint", version: "3.11", constraint: "newer than 3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, err := Satisfies(tt.version, tt.constraint)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestParseLoose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "release", input: "Python 3.12.1", expected: "3.12.1"},
		{name: "release candidate", input: "Python 3.13.0rc1", expected: "3.13.0-rc1"},
		{name: "beta", input: "Python 3.14.0b3", expected: "3.14.0-b3"},
		{name: "alpha without patch", input: "3.15a1", expected: "3.15.0-a1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := ParseLoose(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.String())
		})
	}
}

func TestGetVersionInfo(t *testing.T) {
	t.Parallel()

	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
