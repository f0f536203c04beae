/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package conf loads and validates the service configuration.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"github.com/xo/dburl"
	"gopkg.in/yaml.v2"

	"github.com/datagems-eosc/ap-explanation/mapping"
	"github.com/datagems-eosc/ap-explanation/types"
	"github.com/datagems-eosc/ap-explanation/utils/log"
)

// DatabaseInfo describes one provenance-capable target database. The
// DSN is a URL-style connection string validated at load time.
type DatabaseInfo struct {
	Name string `yaml:"name"`
	DSN  string `yaml:"dsn"`
}

// DriverDSN converts the configured URL into the form the database
// driver accepts.
func (d DatabaseInfo) DriverDSN() (dsn string, err error) {
	var u *dburl.URL
	if u, err = dburl.Parse(d.DSN); err != nil {
		err = errors.Wrapf(err, "parse dsn for database %q", d.Name)
		return
	}
	dsn = u.DSN
	return
}

// SemiringInfo overrides or extends one semiring configuration on top
// of the built-in registry.
type SemiringInfo struct {
	Name              string `yaml:"name"`
	RetrievalFunction string `yaml:"retrieval_function"`
	AggregateFunction string `yaml:"aggregate_function"`
	MappingTable      string `yaml:"mapping_table"`
}

// Config holds all the config read from the yaml config file.
type Config struct {
	ListenAddr       string         `yaml:"listen_addr"`
	LogLevel         string         `yaml:"log_level"`
	RewriteCacheSize int            `yaml:"rewrite_cache_size"`
	SetupVersion     string         `yaml:"setup_version"`
	Databases        []DatabaseInfo `yaml:"databases"`
	Semirings        []SemiringInfo `yaml:"semirings"`
}

// GConf is the global config pointer.
var GConf *Config

// LoadConfig loads and validates config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	var configBytes []byte
	if configBytes, err = ioutil.ReadFile(configPath); err != nil {
		log.WithError(err).Error("read config file failed")
		return
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		config = nil
		return
	}
	if err = config.validate(); err != nil {
		log.WithError(err).Error("config validation failed")
		config = nil
	}
	return
}

func (c *Config) validate() (err error) {
	seen := make(map[string]struct{}, len(c.Databases))
	for _, db := range c.Databases {
		if db.Name == "" {
			return errors.New("database entry without a name")
		}
		if _, ok := seen[db.Name]; ok {
			return errors.Errorf("duplicate database name %q", db.Name)
		}
		seen[db.Name] = struct{}{}

		var u *dburl.URL
		if u, err = dburl.Parse(db.DSN); err != nil {
			return errors.Wrapf(err, "invalid dsn for database %q", db.Name)
		}
		if u.Driver != "postgres" {
			return errors.Errorf("database %q is not a postgres target", db.Name)
		}
	}
	for _, s := range c.Semirings {
		if s.Name == "" || s.RetrievalFunction == "" || s.MappingTable == "" {
			return errors.Errorf("incomplete semiring entry %q", s.Name)
		}
	}
	return
}

// Database returns the configured database entry named name.
func (c *Config) Database(name string) (info DatabaseInfo, ok bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return
}

// SemiringRegistry materializes the semiring registry from the built-in
// defaults plus any configured overrides, in file order.
func (c *Config) SemiringRegistry() *types.Registry {
	registry := types.NewRegistry(types.DefaultSemirings()...)
	for _, s := range c.Semirings {
		registry.Register(types.Semiring{
			Name:              s.Name,
			RetrievalFunction: s.RetrievalFunction,
			AggregateFunction: s.AggregateFunction,
			MappingTable:      s.MappingTable,
			Mapping:           mapping.NewCtid(),
		})
	}
	return registry
}
