package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// envSource layers the three places settings come from. Explicit values beat the process
// environment, which beats the dotenv file.
type envSource struct {
	dotenv   map[string]string
	explicit map[string]string
	system   bool
}

func newEnvSource(o loaderOptions) (envSource, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return envSource{}, err
	}
	return envSource{dotenv: dotenv, explicit: o.envMap, system: o.useSystemEnv}, nil
}

func (s envSource) lookup(key string) (string, bool) {
	if v, ok := s.explicit[key]; ok {
		return v, true
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := s.dotenv[key]
	return v, ok
}

// flatten returns every visible key with its winning value.
func (s envSource) flatten() map[string]string {
	out := make(map[string]string, len(s.dotenv)+len(s.explicit))
	for k, v := range s.dotenv {
		out[k] = v
	}
	if s.system {
		for _, entry := range os.Environ() {
			k, v, ok := strings.Cut(entry, "=")
			if k = strings.TrimSpace(k); ok && k != "" {
				out[k] = v
			}
		}
	}
	for k, v := range s.explicit {
		out[k] = v
	}
	return out
}

func (s envSource) str(key, fallback string) string {
	if v, ok := s.lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.str(key, "")); err == nil {
		return d
	}
	return fallback
}

func (s envSource) int(key string, fallback int) int {
	if n, err := strconv.Atoi(s.str(key, "")); err == nil {
		return n
	}
	return fallback
}

func (s envSource) float(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s.str(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

// decimal keeps rate settings exact; fallback must parse.
func (s envSource) decimal(key, fallback string) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(s.str(key, ""))); err == nil {
		return d
	}
	return decimal.RequireFromString(fallback)
}

// pairs parses "K1=v1,K2=v2". Malformed entries are skipped.
func (s envSource) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(s.str(key, ""), ",") {
		k, v, ok := strings.Cut(entry, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// readDotEnv parses KEY=value lines, tolerating "export" prefixes, comments and quotes. A
// missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
