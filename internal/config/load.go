package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ParseError reports a configuration file that exists but cannot be
// decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load builds a Settings snapshot from the given TOML files, applied in
// order on top of Default. Missing files are skipped; unreadable or
// malformed files abort the load. Keys absent from a file keep the
// value established by earlier layers.
func Load(paths ...string) (Settings, error) {
	s := Default()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, &ParseError{Path: path, Err: err}
		}
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
		s.LogLevel = strings.ToLower(s.LogLevel)
	default:
		return fmt.Errorf("invalid log_level %q", s.LogLevel)
	}
	if s.Toolchain.Executable == "" {
		return errors.New("toolchain.executable must not be empty")
	}
	if s.Toolchain.Manifest == "" {
		return errors.New("toolchain.manifest must not be empty")
	}
	return nil
}
