package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// source layers environment maps. Later layers win: dotenv, then the process environment,
// then explicit overrides.
type source struct {
	layers []map[string]string
}

func newSource(options loaderOptions) (*source, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	src := &source{}
	src.push(dotenv)
	if options.useSystemEnv {
		src.push(processEnv())
	}
	src.push(options.envMap)
	return src, nil
}

func (s *source) push(layer map[string]string) {
	if len(layer) > 0 {
		s.layers = append(s.layers, layer)
	}
}

func (s *source) lookup(key string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if value, ok := s.layers[i][key]; ok {
			return value, true
		}
	}
	return "", false
}

func (s *source) values() map[string]string {
	out := make(map[string]string)
	for _, layer := range s.layers {
		for key, value := range layer {
			out[key] = value
		}
	}
	return out
}

func processEnv() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			env[key] = value
		}
	}
	return env
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}
