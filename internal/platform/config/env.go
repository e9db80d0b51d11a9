package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

type sourceOptions struct {
	envFile     string
	overrides   map[string]string
	skipProcess bool
}

// source layers explicit overrides over the process environment over the .env file.
type source struct {
	overrides map[string]string
	process   bool
	dotEnv    map[string]string
}

func openSources(opts sourceOptions) (source, error) {
	dotEnv, err := readDotEnv(opts.envFile)
	if err != nil {
		return source{}, err
	}
	return source{overrides: opts.overrides, process: !opts.skipProcess, dotEnv: dotEnv}, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := s.overrides[key]; ok {
		return v, true
	}
	if s.process {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := s.dotEnv[key]
	return v, ok
}

// EnvironmentValues flattens the same layers Load reads into one map. main uses it to configure the
// secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	src, err := openSources(options.sources)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(src.dotEnv))
	for k, v := range src.dotEnv {
		values[k] = v
	}
	if src.process {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
				values[k] = v
			}
		}
	}
	for k, v := range src.overrides {
		values[k] = v
	}
	return values, nil
}

// readDotEnv parses KEY=value lines, allowing comments, an "export " prefix and quoted values. A
// missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			return nil, fmt.Errorf("config: %s:%d: expected KEY=value", path, n)
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
