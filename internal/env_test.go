// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/stableconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useConfigFile(t *testing.T, contents string) {
	path := filepath.Join(t.TempDir(), "coverage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	old := stableconfig.LocalConfig
	stableconfig.LocalConfig = stableconfig.NewSource(path)
	t.Cleanup(func() { stableconfig.LocalConfig = old })
}

func TestBoolEnv(t *testing.T) {
	assert.True(t, BoolEnv("DD_COVERAGE_TEST_UNSET", true))

	t.Setenv("DD_COVERAGE_TEST_BOOL", "false")
	assert.False(t, BoolEnv("DD_COVERAGE_TEST_BOOL", true))

	t.Setenv("DD_COVERAGE_TEST_BOOL", "not-a-bool")
	assert.True(t, BoolEnv("DD_COVERAGE_TEST_BOOL", true))
}

func TestIntEnv(t *testing.T) {
	assert.Equal(t, 8765, IntEnv("DD_COVERAGE_TEST_UNSET", 8765))

	t.Setenv("DD_COVERAGE_TEST_INT", "42")
	assert.Equal(t, 42, IntEnv("DD_COVERAGE_TEST_INT", 8765))

	t.Setenv("DD_COVERAGE_TEST_INT", "4x2")
	assert.Equal(t, 8765, IntEnv("DD_COVERAGE_TEST_INT", 8765))
}

func TestDurationEnv(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want time.Duration
	}{
		{"30", 30 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
		{"soon", time.Minute},
	} {
		t.Run(tt.in, func(t *testing.T) {
			t.Setenv("DD_COVERAGE_TEST_DURATION", tt.in)
			assert.Equal(t, tt.want, DurationEnv("DD_COVERAGE_TEST_DURATION", time.Minute))
		})
	}
}

func TestStringEnv(t *testing.T) {
	assert.Equal(t, "localhost", StringEnv("DD_COVERAGE_TEST_UNSET", "localhost"))
	t.Setenv("DD_COVERAGE_TEST_STRING", "")
	assert.Equal(t, "", StringEnv("DD_COVERAGE_TEST_STRING", "localhost"))
}

func TestEnvFallsBackToFile(t *testing.T) {
	useConfigFile(t, `
config_id: 7
coverage_configuration_default:
  DD_COVERAGE_HQ_HOST: "hq.example"
  DD_COVERAGE_HQ_PORT: "9100"
  DD_COVERAGE_NOT_ALLOWED: "x"
`)
	assert.Equal(t, "hq.example", StringEnv("DD_COVERAGE_HQ_HOST", "localhost"))
	assert.Equal(t, 9100, IntEnv("DD_COVERAGE_HQ_PORT", 8765))
	assert.Equal(t, "default", StringEnv("DD_COVERAGE_NOT_ALLOWED", "default"))

	// the environment wins over the file
	t.Setenv("DD_COVERAGE_HQ_PORT", "9200")
	assert.Equal(t, 9200, IntEnv("DD_COVERAGE_HQ_PORT", 8765))
}
