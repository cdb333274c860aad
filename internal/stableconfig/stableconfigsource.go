// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package stableconfig loads agent settings from a local YAML file. Values
// found there are used when the matching environment variable is unset.
package stableconfig

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/DataDog/dd-coverage-go/internal/log"
	"gopkg.in/yaml.v3"
)

const defaultFilePath = "/etc/datadog-agent/coverage.yaml"

// LocalConfig is the file source at DD_COVERAGE_CONFIG_FILE, or at the default
// path when that variable is unset. It is read on first use.
var LocalConfig = &Source{filePath: localFilePath()}

func localFilePath() string {
	if v := os.Getenv("DD_COVERAGE_CONFIG_FILE"); v != "" {
		return v
	}
	return defaultFilePath
}

// Source is a lazily parsed configuration file.
type Source struct {
	filePath string
	once     sync.Once
	config   *stableConfig
}

// NewSource returns a Source reading filePath.
func NewSource(filePath string) *Source {
	return &Source{filePath: filePath}
}

// Get returns the value configured for key, or "" if the file does not set it.
func (s *Source) Get(key string) string {
	s.once.Do(func() { s.config = ParseFile(s.filePath) })
	return s.config.get(key)
}

// ParseFile reads and parses filePath. A missing or malformed file yields an
// empty configuration.
func ParseFile(filePath string) *stableConfig {
	data, err := os.ReadFile(filePath)
	if err == nil {
		return fileContentsToConfig(data, filePath)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		log.Warn("Failed to read configuration file %s: %v", filePath, err)
	}
	return emptyStableConfig()
}

func fileContentsToConfig(data []byte, fileName string) *stableConfig {
	var scfg stableConfig
	err := yaml.Unmarshal(data, &scfg)
	if err != nil {
		log.Warn("Parsing configuration file %s failed due to error: %v", fileName, err)
		return emptyStableConfig()
	}
	if scfg.Config == nil {
		scfg.Config = make(map[string]string, 0)
	}
	if scfg.ID == 0 {
		scfg.ID = -1
	}
	return &scfg
}
