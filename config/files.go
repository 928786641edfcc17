package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Document is one configuration file.
type Document struct {
	Path string
	Data []byte
}

// ReadConfigFiles reads path. A file is read whatever its name, a directory
// is searched recursively for .yaml and .yml files. Documents are returned in
// lexical order of their absolute path.
func ReadConfigFiles(path string) ([]Document, error) {
	files, err := resolve(path, true)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found at %s", path)
	}
	slices.Sort(files)

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: f, Data: b})
	}
	return docs, nil
}

// direct is true for the path named by the user, false for entries found
// while walking a directory.
func resolve(path string, direct bool) ([]string, error) {
	i, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !i.IsDir() {
		ext := filepath.Ext(path)
		if !direct && ext != ".yaml" && ext != ".yml" {
			return nil, nil
		}
		ap, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return []string{ap}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("problem while reading directory %s: %w", path, err)
	}

	var files []string
	for _, e := range entries {
		f, err := resolve(filepath.Join(path, e.Name()), false)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
	}
	return files, nil
}
