// Package migrations embeds the schema migrations applied by pgstore.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var files embed.FS

// FS serves the embedded migrations to tern.
var FS embeddedFS

type embeddedFS struct{}

func (embeddedFS) ReadDir(dir string) ([]fs.FileInfo, error) {
	entries, err := files.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (embeddedFS) ReadFile(name string) ([]byte, error) {
	return files.ReadFile(name)
}

func (embeddedFS) Glob(pattern string) ([]string, error) {
	return fs.Glob(files, pattern)
}

// Names lists the embedded migration files in apply order.
func Names() []string {
	names, _ := fs.Glob(files, "*.sql")
	sort.Strings(names)
	return names
}
