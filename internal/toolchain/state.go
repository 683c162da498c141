package toolchain

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// BuildState is the slice of the build database packwright reads. The
// file belongs to the pack tool and its schema moves with pack
// releases, so fields are extracted by path instead of mapping the
// whole document.
type BuildState struct {
	// Version is the database format version.
	Version int64
	// PackageName is the built package's name, when recorded.
	PackageName string
	// Dependencies are the resolved dependency names, in database
	// order.
	Dependencies []string
}

// LoadState reads the build database for the package rooted at dir. A
// missing database returns an error wrapping os.ErrNotExist.
func (t *Toolchain) LoadState(dir string) (*BuildState, error) {
	path := t.StatePath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build database: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse build database %s: invalid JSON", path)
	}

	doc := gjson.ParseBytes(data)
	st := &BuildState{
		Version:     doc.Get("version").Int(),
		PackageName: doc.Get("package.name").String(),
	}
	for _, dep := range doc.Get("dependencies.#.name").Array() {
		st.Dependencies = append(st.Dependencies, dep.String())
	}
	return st, nil
}
