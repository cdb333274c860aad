// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package stableconfig

import "gopkg.in/yaml.v3"

type stableConfig struct {
	Config configAllowList `yaml:"coverage_configuration_default,omitempty"`
	ID     int             `yaml:"config_id,omitempty"`
}

type configAllowList map[string]string

var allowlist = map[string]struct{}{
	"DD_COVERAGE_HQ_HOST":         {},
	"DD_COVERAGE_HQ_PORT":         {},
	"DD_COVERAGE_PROJECT_ID":      {},
	"DD_COVERAGE_CONNECT_TIMEOUT": {},
	"DD_COVERAGE_DEBUG":           {},
	"DD_COVERAGE_STARTUP_LOGS":    {},
	"DD_DOGSTATSD_ADDR":           {},
}

// UnmarshalYAML implements yaml.Unmarshaler, keeping only allow-listed keys.
func (l *configAllowList) UnmarshalYAML(value *yaml.Node) error {
	temp := make(map[string]string)
	if err := value.Decode(&temp); err != nil {
		return err
	}

	filtered := make(map[string]string)
	for k, v := range temp {
		if _, ok := allowlist[k]; ok {
			filtered[k] = v
		}
	}

	*l = filtered
	return nil
}

func (s *stableConfig) get(key string) string {
	return s.Config[key]
}

func (s *stableConfig) isEmpty() bool {
	return s.ID == -1 && len(s.Config) == 0
}

func emptyStableConfig() *stableConfig {
	return &stableConfig{
		Config: make(map[string]string, 0),
		ID:     -1,
	}
}
