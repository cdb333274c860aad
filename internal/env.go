// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package internal

import (
	"os"
	"strconv"
	"time"

	"github.com/DataDog/dd-coverage-go/internal/log"
	"github.com/DataDog/dd-coverage-go/internal/stableconfig"
)

// lookup returns the value of key from the environment, falling back to the
// local configuration file.
func lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	if v := stableconfig.LocalConfig.Get(key); v != "" {
		return v, true
	}
	return "", false
}

// BoolEnv returns the parsed boolean value of an environment variable, or
// def otherwise.
func BoolEnv(key string, def bool) bool {
	vv, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(vv)
	if err != nil {
		log.Warn("Non-boolean value for env var %s, defaulting to %t. Parse failed with error: %v", key, def, err)
		return def
	}
	return v
}

// IntEnv returns the parsed int value of an environment variable, or
// def otherwise.
func IntEnv(key string, def int) int {
	vv, ok := lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(vv)
	if err != nil {
		log.Warn("Non-integer value for env var %s, defaulting to %d. Parse failed with error: %v", key, def, err)
		return def
	}
	return v
}

// DurationEnv returns the parsed duration value of an environment variable, or
// def otherwise. Plain numbers are read as seconds.
func DurationEnv(key string, def time.Duration) time.Duration {
	vv, ok := lookup(key)
	if !ok {
		return def
	}
	if sec, err := strconv.ParseFloat(vv, 64); err == nil {
		return time.Duration(sec * float64(time.Second))
	}
	v, err := time.ParseDuration(vv)
	if err != nil {
		log.Warn("Non-duration value for env var %s, defaulting to %s. Parse failed with error: %v", key, def, err)
		return def
	}
	return v
}

// StringEnv returns the value of an environment variable, or
// def otherwise.
func StringEnv(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}
