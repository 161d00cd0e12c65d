package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// maxIncludeDepth bounds `conf-file` recursion; a cycle of includes would
// otherwise loop forever rather than hitting a clean ConfigError.
const maxIncludeDepth = 16

// Load reads the directive file at path top-to-bottom, honoring
// `group-begin`/`group-end` lexical scoping and `conf-file` includes, and
// returns the resulting immutable RuntimeConfig. Unknown directives and
// malformed values abort loading with a *ConfigError (spec §7: config
// errors are always fatal).
func Load(path string, log zerolog.Logger) (*RuntimeConfig, error) {
	b := newBuilder(log)
	if err := loadFile(b, path); err != nil {
		return nil, err
	}
	if len(b.groupStack) != 0 {
		return nil, &ConfigError{File: path, Msg: fmt.Sprintf("unterminated group-begin %q", b.groupStack[len(b.groupStack)-1])}
	}
	return b.finish(), nil
}

// loadIncludeFile is loadFile with include-depth bookkeeping, called only
// from the `conf-file` directive handler.
func loadIncludeFile(b *builder, path string) error {
	b.includeDepth++
	defer func() { b.includeDepth-- }()
	if b.includeDepth > maxIncludeDepth {
		return fmt.Errorf("conf-file: include depth exceeds %d (cyclic include?)", maxIncludeDepth)
	}
	return loadFile(b, path)
}

func loadFile(b *builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &ConfigError{File: path, Msg: err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		directive, fields, ok := tokenizeLine(scanner.Text())
		if !ok {
			continue
		}
		if err := dispatch(b, path, lineNo, directive, fields); err != nil {
			return &ConfigError{File: path, Line: lineNo, Msg: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return &ConfigError{File: path, Msg: err.Error()}
	}
	return nil
}

// resolveIncludePath resolves a `conf-file` argument relative to the
// including file's directory, matching shell/cpp-style include semantics
// (an absolute argument is used as-is).
func resolveIncludePath(fromFile, arg string) string {
	if filepath.IsAbs(arg) || strings.HasPrefix(arg, "~") {
		return arg
	}
	return filepath.Join(filepath.Dir(fromFile), arg)
}
