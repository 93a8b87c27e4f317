// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatchd

// Config configures a Server: interface/port, worker-pool sizing, log
// destination, and transport mode. Built with the functional-options
// idiom, generalized directly from the teacher's framer.Option/
// framer.Options pattern (options.go) from framing configuration to
// server configuration.
type Config struct {
	Interface    string
	Port         int
	Searchers    int
	Updaters     int
	LogPath      string
	Stdio        bool
	Version      string
	PendingLimit int
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithInterface sets the TCP listen address (spec.md §6 -i/--interface).
func WithInterface(host string) Option { return func(c *Config) { c.Interface = host } }

// WithPort sets the TCP listen port (spec.md §6 -p/--port).
func WithPort(port int) Option { return func(c *Config) { c.Port = port } }

// WithSearchers sets the search-group worker limit (spec.md §6 -s/--searchers).
func WithSearchers(n int) Option { return func(c *Config) { c.Searchers = n } }

// WithUpdaters sets the per-indexer-group worker limit (spec.md §6 -u/--updaters).
func WithUpdaters(n int) Option { return func(c *Config) { c.Updaters = n } }

// WithLogPath sets the log file path (spec.md §6 -l/--log); empty routes
// to stderr.
func WithLogPath(path string) Option { return func(c *Config) { c.LogPath = path } }

// WithStdio enables stdio mode: connection 0 reads fd 0 and writes fd 1
// instead of a TCP listener (spec.md §6).
func WithStdio(enabled bool) Option { return func(c *Config) { c.Stdio = enabled } }

// WithVersion sets the string returned by the Gversion route (spec.md
// §4.8 scenario 1).
func WithVersion(v string) Option { return func(c *Config) { c.Version = v } }

// WithPendingLimit bounds the per-group retry queue used when a worker
// group is at capacity (DESIGN.md Open Question 2).
func WithPendingLimit(n int) Option { return func(c *Config) { c.PendingLimit = n } }

var defaultConfig = Config{
	Interface:    "0.0.0.0",
	Port:         9090,
	Searchers:    4,
	Updaters:     4,
	Version:      "dev",
	PendingLimit: 64,
}

// NewConfig builds a Config from the package defaults plus opts, in order.
func NewConfig(opts ...Option) Config {
	cfg := defaultConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
