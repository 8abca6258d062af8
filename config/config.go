// Package config loads PLC connections and tag maps from YAML files.
//
// A file lists one or more connections:
//
//	connections:
//	  - name: line1
//	    host: 192.168.1.10
//	    port: 5000
//	    ascii: false
//	    timeout: 2s
//	    poll_interval: 500ms
//	    tags:
//	      temperature: D100
//	      running: M10
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-mcprotocol/logger"
	"github.com/arloliu/go-mcprotocol/mc"
	"github.com/arloliu/go-mcprotocol/mcclient"
)

// DefaultPollInterval is used when a connection does not set poll_interval.
const DefaultPollInterval = time.Second

var (
	// ErrInvalidConfig is returned when a configuration file fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrConnectionNotFound is returned by File.Find for an unknown connection name.
	ErrConnectionNotFound = errors.New("connection not found")
)

// File is the root of a configuration file.
type File struct {
	Connections []*Connection `yaml:"connections"`
}

// Connection describes one PLC and the tags polled from it.
type Connection struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	ASCII          bool     `yaml:"ascii"`
	OctalIO        *bool    `yaml:"octal_io,omitempty"`
	Optimize       *bool    `yaml:"optimize,omitempty"`
	MaxGap         *int     `yaml:"max_gap,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"`
	ResetDelay     Duration `yaml:"reset_delay,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty"`

	// Tags maps an alias to a device address, e.g. "temperature: D100".
	Tags map[string]string `yaml:"tags,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("1500ms", "2s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a configuration from r. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}

		return nil, fmt.Errorf("%w: parse YAML: %w", ErrInvalidConfig, err)
	}

	if err := file.validate(); err != nil {
		return nil, err
	}

	return &file, nil
}

func (f *File) validate() error {
	if len(f.Connections) == 0 {
		return fmt.Errorf("%w: no connections", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(f.Connections))
	for i, conn := range f.Connections {
		if conn == nil {
			return fmt.Errorf("%w: connection #%d is empty", ErrInvalidConfig, i)
		}

		if _, err := conn.ConnectionConfig(); err != nil {
			return fmt.Errorf("%w: connection #%d: %w", ErrInvalidConfig, i, err)
		}
		if conn.Name == "" {
			conn.Name = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
		}
		if _, ok := seen[conn.Name]; ok {
			return fmt.Errorf("%w: duplicate connection name %q", ErrInvalidConfig, conn.Name)
		}
		seen[conn.Name] = struct{}{}

		if conn.PollInterval < 0 {
			return fmt.Errorf("%w: connection %q: poll_interval must be positive", ErrInvalidConfig, conn.Name)
		}

		for _, alias := range conn.Aliases() {
			if _, err := mc.ParseAddress(conn.Tags[alias], conn.octalIO()); err != nil {
				return fmt.Errorf("%w: connection %q: tag %q: %w", ErrInvalidConfig, conn.Name, alias, err)
			}
		}
	}

	return nil
}

// Find returns the connection with the given name. An empty name selects the first one.
func (f *File) Find(name string) (*Connection, error) {
	if name == "" && len(f.Connections) > 0 {
		return f.Connections[0], nil
	}

	for _, conn := range f.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, name)
}

// Options maps the connection settings to client options.
func (c *Connection) Options() []mcclient.ConnOption {
	opts := []mcclient.ConnOption{mcclient.WithASCII(c.ASCII)}

	if c.Name != "" {
		opts = append(opts, mcclient.WithName(c.Name))
	}
	if c.OctalIO != nil {
		opts = append(opts, mcclient.WithOctalInputOutput(*c.OctalIO))
	}
	if c.Optimize != nil {
		opts = append(opts, mcclient.WithOptimization(*c.Optimize))
	}
	if c.MaxGap != nil {
		opts = append(opts, mcclient.WithMaxGap(*c.MaxGap))
	}
	if c.Timeout != 0 {
		opts = append(opts, mcclient.WithTimeout(time.Duration(c.Timeout)))
	}
	if c.ResetDelay != 0 {
		opts = append(opts, mcclient.WithResetDelay(time.Duration(c.ResetDelay)))
	}
	if c.ConnectTimeout != 0 {
		opts = append(opts, mcclient.WithConnectTimeout(time.Duration(c.ConnectTimeout)))
	}

	return opts
}

// ConnectionConfig builds the client configuration; extra options are applied last.
func (c *Connection) ConnectionConfig(extra ...mcclient.ConnOption) (*mcclient.ConnectionConfig, error) {
	opts := append(c.Options(), extra...)

	return mcclient.NewConnectionConfig(c.Host, c.Port, opts...)
}

// NewClient creates a client for the connection with the tag map installed as the alias
// translation and every tag added to the read set.
func (c *Connection) NewClient(ctx context.Context, l logger.Logger) (*mcclient.Client, error) {
	var extra []mcclient.ConnOption
	if l != nil {
		extra = append(extra, mcclient.WithLogger(l))
	}

	cfg, err := c.ConnectionConfig(extra...)
	if err != nil {
		return nil, err
	}

	client, err := mcclient.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client.SetTranslationFunc(c.Translate)
	client.AddItems(c.Aliases())

	return client, nil
}

// Translate resolves a tag alias to its address. Unknown aliases are returned as is, so
// plain addresses keep working.
func (c *Connection) Translate(alias string) string {
	if addr, ok := c.Tags[alias]; ok {
		return addr
	}

	return alias
}

// Aliases returns the tag aliases in sorted order.
func (c *Connection) Aliases() []string {
	aliases := make([]string, 0, len(c.Tags))
	for alias := range c.Tags {
		aliases = append(aliases, alias)
	}
	slices.Sort(aliases)

	return aliases
}

// Interval returns the poll interval.
func (c *Connection) Interval() time.Duration {
	if c.PollInterval == 0 {
		return DefaultPollInterval
	}

	return time.Duration(c.PollInterval)
}

func (c *Connection) octalIO() bool {
	return c.OctalIO == nil || *c.OctalIO
}
