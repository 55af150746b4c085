package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// fallbackValues holds the contents of a local KEY=VALUE secrets file. Keys are secret
// references; a #version suffix pins the value to one version, e.g. secret://app_secret#3=value.
type fallbackValues map[string]string

func loadFallbackFile(path string) (fallbackValues, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallbackValues{}, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fallbackValues{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()
	values, err := parseFallback(file)
	if err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

func parseFallback(r io.Reader) (fallbackValues, error) {
	values := fallbackValues{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			continue
		}
		key, version, _ := strings.Cut(key, "#")
		ref, err := ParseReference(key)
		if err != nil {
			values[key] = value
			continue
		}
		if version != "" {
			values[versionedKey(ref.Canonical, version)] = value
			continue
		}
		values[ref.Canonical] = value
	}
	return values, scanner.Err()
}

func (v fallbackValues) lookup(ref Reference, version string) (string, bool) {
	if value, ok := v[versionedKey(ref.Canonical, version)]; ok {
		return value, true
	}
	value, ok := v[ref.Canonical]
	return value, ok
}
