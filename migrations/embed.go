// Package migrations embeds all SQL migration files so the binary is
// self-contained and schema setup works regardless of working directory.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS

// All returns the concatenated migration SQL in filename order. Files are
// numbered (001_, 002_, ...) so lexical order is application order.
func All() (string, error) {
	entries, err := fs.Glob(FS, "*.sql")
	if err != nil {
		return "", err
	}
	sort.Strings(entries)

	var b strings.Builder
	for _, name := range entries {
		data, err := FS.ReadFile(name)
		if err != nil {
			return "", err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
