package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

type reference struct {
	name    string
	version string
	project string
}

func (r reference) key() string { return r.name + "#" + r.version }

// parseReference accepts secret://name and sm://name, with optional version and project query
// parameters. The version defaults to "latest".
func parseReference(raw string) (reference, error) {
	trimmed := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		trimmed = "secret://" + rest
	}
	u, err := url.Parse(trimmed)
	switch {
	case err != nil:
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	case u.Scheme != "secret":
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	ref := reference{
		name:    strings.Trim(u.Host+u.Path, "/"),
		version: strings.TrimSpace(u.Query().Get("version")),
		project: strings.TrimSpace(u.Query().Get("project")),
	}
	if ref.name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	if ref.version == "" {
		ref.version = "latest"
	}
	return ref, nil
}

// readFallbackFile parses "secret://name=value" lines into entries keyed by name#version and by
// bare name. A bare name prefers the "latest" entry. A missing file yields an empty map.
func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := parseReference(raw)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[ref.key()] = value
		if _, seen := values[ref.name]; !seen || ref.version == "latest" {
			values[ref.name] = value
		}
	}
	return values, scanner.Err()
}
