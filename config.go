// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package slouch

import (
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/slouch/backoff"
	"github.com/go-kivik/slouch/log"
)

// EnvURL names the environment variable which, when set, overrides the
// server URL of a loaded configuration.
const EnvURL = "SLOUCH_URL"

// Config is the file-based configuration of a [Client]. Zero values select
// the defaults.
type Config struct {
	URL                    string         `yaml:"url" validate:"required,url"`
	MaxConnections         int            `yaml:"max_connections" validate:"gte=0"`
	MaxRetries             *int           `yaml:"max_retries" validate:"omitempty,gte=0"`
	UpsertMaxRetries       int            `yaml:"upsert_max_retries" validate:"gte=0"`
	IgnoreDuplicateUpdates *bool          `yaml:"ignore_duplicate_updates"`
	LogEverything          bool           `yaml:"log_everything"`
	Backoff                backoff.Policy `yaml:"backoff"`
	RequestTimeout         time.Duration  `yaml:"request_timeout" validate:"gte=0"`
	ConnectTimeout         time.Duration  `yaml:"connect_timeout" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a configuration for a server on localhost.
func DefaultConfig() *Config {
	return &Config{
		URL: "http://localhost:5984/",
	}
}

// LoadConfig reads a YAML configuration file. If [EnvURL] is set, it
// replaces the URL from the file. The result is validated.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	defer f.Close() // nolint: errcheck
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", filename)
	}
	if url := os.Getenv(EnvURL); url != "" {
		cfg.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	return errors.Wrap(validate.Struct(c), "invalid configuration")
}

func (c *Config) httpClient() *http.Client {
	if c.RequestTimeout == 0 && c.ConnectTimeout == 0 {
		return nil
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{
			Timeout:   c.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	return &http.Client{
		Transport: transport,
		Timeout:   c.RequestTimeout,
	}
}

// Options converts the configuration into client options.
func (c *Config) Options() []Option {
	var opts []Option
	if client := c.httpClient(); client != nil {
		opts = append(opts, OptionHTTPClient(client))
	}
	if c.MaxConnections > 0 {
		opts = append(opts, OptionMaxConnections(c.MaxConnections))
	}
	if c.MaxRetries != nil {
		opts = append(opts, OptionMaxRetries(*c.MaxRetries))
	}
	if c.UpsertMaxRetries > 0 {
		opts = append(opts, OptionUpsertMaxRetries(c.UpsertMaxRetries))
	}
	if c.IgnoreDuplicateUpdates != nil {
		opts = append(opts, OptionIgnoreDuplicateUpdates(*c.IgnoreDuplicateUpdates))
	}
	if c.LogEverything {
		// Request logging needs somewhere to go; an OptionLogger passed to
		// NewFromConfig is applied later and replaces this one.
		opts = append(opts, OptionLogger(log.New(os.Stderr)), OptionLogEverything(true))
	}
	if c.Backoff != (backoff.Policy{}) {
		opts = append(opts, OptionBackoff(c.Backoff))
	}
	return opts
}

// NewFromConfig returns a client configured by cfg. Additional options are
// applied after those derived from cfg.
func NewFromConfig(cfg *Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg.URL, append(cfg.Options(), options...)...)
}
