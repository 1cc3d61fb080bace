// Package discovery walks an input directory for store (.blob) files
// and the first assemblies manifest found.
package discovery

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

const (
	blobExtension = ".blob"
	manifestName  = "assemblies.manifest"
	primaryStem   = "assemblies"
)

// Inputs is the result of walking an input directory.
type Inputs struct {
	// StorePaths is every .blob file found, recursively, sorted
	// lexicographically for deterministic processing order.
	StorePaths []string
	// ManifestPath is the first assemblies.manifest found, or "" if none.
	ManifestPath string
}

// Discover walks root recursively collecting store files and the
// first manifest file encountered.
func Discover(root string) (Inputs, error) {
	var inputs Inputs

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		switch {
		case strings.EqualFold(filepath.Ext(name), blobExtension):
			inputs.StorePaths = append(inputs.StorePaths, path)
		case inputs.ManifestPath == "" && strings.EqualFold(name, manifestName):
			inputs.ManifestPath = path
		}
		return nil
	})
	if err != nil {
		return Inputs{}, err
	}

	sort.Strings(inputs.StorePaths)
	return inputs, nil
}

// StoreBaseName returns path's basename without its extension.
func StoreBaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsPrimary reports whether basename (as returned by StoreBaseName)
// names the primary store, case-insensitively.
func IsPrimary(basename string) bool {
	return strings.EqualFold(basename, primaryStem)
}
