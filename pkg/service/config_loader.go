// Copyright 2024 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package service

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/flatsat/BoardWorker/model"
)

const (
	// How often the configuration file is checked for changes
	configPollInterval = time.Second * 5
)

// configLoader watches a configuration file and reports changed,
// valid configurations.
type configLoader struct {
	log          zerolog.Logger
	path         string
	pollInterval time.Duration
	readFile     func(path string) ([]byte, error)
	lastHash     string
}

func newConfigLoader(path string, log zerolog.Logger) *configLoader {
	return &configLoader{
		log:          log.With().Str("component", "config-loader").Str("path", path).Logger(),
		path:         path,
		pollInterval: configPollInterval,
		readFile:     os.ReadFile,
	}
}

// Run keeps reading the configuration file and puts config changes
// in configChanged channel, until the given context is canceled.
func (l *configLoader) Run(ctx context.Context, configChanged chan<- model.BoardConfiguration) {
	for {
		if conf, changed := l.load(); changed {
			select {
			case configChanged <- conf:
				// Continue
			case <-ctx.Done():
				// Context canceled
				return
			}
		}
		select {
		case <-ctx.Done():
			// Context canceled
			return
		case <-time.After(l.pollInterval):
			// Check again
		}
	}
}

// load reads the configuration file.
// Returns true when it contains a new, valid configuration.
func (l *configLoader) load() (model.BoardConfiguration, bool) {
	log := l.log
	data, err := l.readFile(l.path)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read configuration")
		return model.BoardConfiguration{}, false
	}
	hash := fmt.Sprintf("%x", sha1.Sum(data))
	if hash == l.lastHash {
		return model.BoardConfiguration{}, false
	}
	l.lastHash = hash
	conf, err := model.ParseBoardConfiguration(data)
	if err != nil {
		configurationErrorsTotal.Inc()
		log.Error().Err(err).Str("hash", hash).Msg("Invalid configuration, keeping current one")
		return model.BoardConfiguration{}, false
	}
	log.Debug().Str("hash", hash).Msg("Read new configuration")
	return conf, true
}
