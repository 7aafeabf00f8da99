package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser errors.
var (
	ErrInvalidYAML     = errors.New("invalid YAML format")
	ErrInvalidDuration = errors.New("invalid duration format")
	ErrInvalidNumber   = errors.New("invalid number format")
	ErrFileNotFound    = errors.New("configuration file not found")
)

// LoadConfig reads a configuration file. Missing settings keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration data after substituting environment
// variables.
func ParseConfig(data []byte) (*Config, error) {
	entries, err := parseYAML(substituteEnvVars(data))
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	for _, e := range entries {
		set, ok := setters[e.path]
		if !ok {
			continue
		}
		if err := set(config, e); err != nil {
			return nil, fmt.Errorf("%s: %w", e.path, err)
		}
	}
	return config, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default}.
func substituteEnvVars(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		name, fallback, hasDefault := strings.Cut(name, ":-")
		if val := os.Getenv(name); val != "" || !hasDefault {
			return []byte(val)
		}
		return []byte(fallback)
	})
}

// yamlEntry is one "key: value" line of a section, with the "- item" lines
// that follow it.
type yamlEntry struct {
	path  string // section.key
	value string
	items []string
	line  int
}

// parseYAML reads the subset of YAML used by config files: unindented
// section names, indented "key: value" pairs and "- item" lists under a key.
// Deeper nesting is flattened into the enclosing section.
func parseYAML(data []byte) ([]*yamlEntry, error) {
	var (
		entries []*yamlEntry
		section string
		last    *yamlEntry
	)

	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := countIndent(line)

		if trimmed == "-" || strings.HasPrefix(trimmed, "- ") {
			if last == nil {
				return nil, fmt.Errorf("%w: line %d: list item without a key", ErrInvalidYAML, i+1)
			}
			item := unquote(strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
			last.items = append(last.items, item)
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidYAML, i+1, trimmed)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if indent == 0 {
			section, last = key, nil
			continue
		}
		if section == "" {
			return nil, fmt.Errorf("%w: line %d: %q outside a section", ErrInvalidYAML, i+1, key)
		}
		last = &yamlEntry{path: section + "." + key, value: value, line: i + 1}
		entries = append(entries, last)
	}
	return entries, nil
}

// countIndent counts leading spaces; a tab counts as two.
func countIndent(line string) int {
	n := 0
	for _, ch := range line {
		switch ch {
		case ' ':
			n++
		case '\t':
			n += 2
		default:
			return n
		}
	}
	return n
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// list returns the entry as a list: an inline ["a", "b"] array, the "- item"
// lines under it, or its single value.
func (e *yamlEntry) list() []string {
	v := e.value
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		items := []string{}
		for _, item := range strings.Split(v[1:len(v)-1], ",") {
			if item = unquote(strings.TrimSpace(item)); item != "" {
				items = append(items, item)
			}
		}
		return items
	}
	if len(e.items) > 0 {
		return e.items
	}
	if v != "" {
		return []string{v}
	}
	return nil
}

type setter func(c *Config, e *yamlEntry) error

// str, integer, boolean and duration build setters that leave the default
// in place when the value is empty.

func str(field func(*Config) *string) setter {
	return func(c *Config, e *yamlEntry) error {
		if e.value != "" {
			*field(c) = e.value
		}
		return nil
	}
}

func integer(field func(*Config) *int) setter {
	return func(c *Config, e *yamlEntry) error {
		if e.value == "" {
			return nil
		}
		n, err := strconv.Atoi(e.value)
		if err != nil {
			return ErrInvalidNumber
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) setter {
	return func(c *Config, e *yamlEntry) error {
		if e.value != "" {
			*field(c) = parseBool(e.value)
		}
		return nil
	}
}

func duration(field func(*Config) *time.Duration) setter {
	return func(c *Config, e *yamlEntry) error {
		if e.value == "" {
			return nil
		}
		d, err := parseDuration(e.value)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// setters maps every known section.key to the field it sets. Unknown keys
// are ignored.
var setters = map[string]setter{
	"storage.dataDir":            str(func(c *Config) *string { return &c.Storage.DataDir }),
	"storage.syncOnWrite":        boolean(func(c *Config) *bool { return &c.Storage.SyncOnWrite }),
	"storage.initialPages":       integer(func(c *Config) *int { return &c.Storage.InitialPages }),
	"storage.cacheSize":          integer(func(c *Config) *int { return &c.Storage.CacheSize }),
	"storage.checkpointInterval": duration(func(c *Config) *time.Duration { return &c.Storage.CheckpointInterval }),
	"storage.checkpointWALBytes": str(func(c *Config) *string { return &c.Storage.CheckpointWALBytes }),
	"storage.watchBufferSize":    integer(func(c *Config) *int { return &c.Storage.WatchBufferSize }),

	"blob.compression":     str(func(c *Config) *string { return &c.Blob.Compression }),
	"blob.compressMinSize": str(func(c *Config) *string { return &c.Blob.CompressMinSize }),

	"logging.level":  str(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format": str(func(c *Config) *string { return &c.Logging.Format }),
	"logging.output": str(func(c *Config) *string { return &c.Logging.Output }),

	"telemetry.enabled":        boolean(func(c *Config) *bool { return &c.Telemetry.Enabled }),
	"telemetry.serviceName":    str(func(c *Config) *string { return &c.Telemetry.ServiceName }),
	"telemetry.prometheusAddr": str(func(c *Config) *string { return &c.Telemetry.PrometheusAddr }),
	"telemetry.otlpEndpoint":   str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint }),
	"telemetry.otlpInsecure":   boolean(func(c *Config) *bool { return &c.Telemetry.OTLPInsecure }),
	"telemetry.metricInterval": duration(func(c *Config) *time.Duration { return &c.Telemetry.MetricInterval }),
	"telemetry.exporters": func(c *Config, e *yamlEntry) error {
		if items := e.list(); items != nil {
			c.Telemetry.Exporters = items
		}
		return nil
	},
	"telemetry.sampleRate": func(c *Config, e *yamlEntry) error {
		if e.value == "" {
			return nil
		}
		rate, err := strconv.ParseFloat(e.value, 64)
		if err != nil {
			return ErrInvalidNumber
		}
		c.Telemetry.SampleRate = rate
		return nil
	},
}

// parseDuration parses Go durations plus a whole-day form such as "90d".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, ErrInvalidDuration
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, ErrInvalidDuration
	}
	return d, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}
