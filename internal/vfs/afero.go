package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Load builds a tree from everything under root in fs. Paths in the tree
// are relative to root, so Load(fs, "/") mirrors the whole filesystem.
func Load(fs afero.Fs, root string) (*Dir, error) {
	tree := NewDir()
	if root == "" {
		root = string(filepath.Separator)
	}

	exists, err := afero.DirExists(fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !exists {
		return tree, nil
	}

	err = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			_, err := mkdirAll(tree, rel)
			return err
		}

		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		return tree.Put(rel, data)
	})
	if err != nil {
		return nil, err
	}

	return tree, nil
}

func mkdirAll(tree *Dir, path string) (*Dir, error) {
	cwd := tree
	for _, segment := range strings.Split(path, "/") {
		sub, err := cwd.Mkdir(segment)
		if err != nil {
			return nil, err
		}
		cwd = sub
	}
	return cwd, nil
}
