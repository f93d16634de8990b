package app

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"unremark/internal/core/errors"
	"unremark/internal/core/ports"

	"github.com/gobwas/glob"
)

// Scanner walks roots and loads supported source files. Unsupported files
// never reach the pipeline.
type Scanner struct {
	parsers     ports.SourceParser
	dirGlobs    []glob.Glob
	fileGlobs   []glob.Glob
	maxFileSize int64
	logger      *slog.Logger
}

func NewScanner(parsers ports.SourceParser, excludeDirs, excludeFiles []string, maxFileSize int64, logger *slog.Logger) (*Scanner, error) {
	dirGlobs, err := compileGlobs(excludeDirs, "exclude dir")
	if err != nil {
		return nil, err
	}
	fileGlobs, err := compileGlobs(excludeFiles, "exclude file")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		parsers:     parsers,
		dirGlobs:    dirGlobs,
		fileGlobs:   fileGlobs,
		maxFileSize: maxFileSize,
		logger:      logger,
	}, nil
}

func compileGlobs(patterns []string, label string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid %s pattern %q", label, p))
		}
		out = append(out, g)
	}
	return out, nil
}

// Scan returns supported files under roots in walk order, without duplicates.
// A root that is a file is included when its extension is supported.
func (s *Scanner) Scan(roots []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "scan root"), errors.CtxPath, root)
		}
		if !info.IsDir() {
			if s.Accepts(root) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && s.excludedDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if s.Accepts(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Accepts reports whether path has a supported extension and is not excluded
// by name or by any excluded parent directory.
func (s *Scanner) Accepts(path string) bool {
	if s.parsers.DetectLanguage(path) == "" {
		return false
	}
	base := filepath.Base(path)
	for _, g := range s.fileGlobs {
		if g.Match(base) {
			return false
		}
	}
	dir := filepath.Dir(path)
	for {
		if s.excludedDir(filepath.Base(dir)) {
			return false
		}
		next := filepath.Dir(dir)
		if next == dir {
			return true
		}
		dir = next
	}
}

func (s *Scanner) excludedDir(name string) bool {
	for _, g := range s.dirGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Load reads paths into pipeline inputs. Unreadable and oversized files are
// logged and left out.
func (s *Scanner) Load(paths []string) []SourceFile {
	out := make([]SourceFile, 0, len(paths))
	for _, path := range paths {
		lang := s.parsers.DetectLanguage(path)
		if lang == "" {
			continue
		}
		if s.maxFileSize > 0 {
			if info, err := os.Stat(path); err == nil && info.Size() > s.maxFileSize {
				s.logger.Warn("skipping oversized file", "path", path, "size", info.Size(), "limit", s.maxFileSize)
				continue
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read file", "path", path, "error", err)
			continue
		}
		out = append(out, SourceFile{Path: path, Language: lang, Source: data})
	}
	return out
}
