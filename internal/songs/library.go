// Package songs resolves song queries to audio streams, either from a local
// library of mp3 files or from a remote song service.
package songs

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Random asks for any song in the library.
const Random = "random"

var ErrNotFound = errors.New("song not found")

type Library struct {
	dir  string
	intn func(int) int
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir, intn: rand.IntN}
}

// Pick returns the file name for query. Unknown titles fall back to a random song.
func (l *Library) Pick(query string) (string, error) {
	files, err := l.list()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no mp3 files in %s", ErrNotFound, l.dir)
	}

	if query != Random {
		needle := strings.ReplaceAll(strings.ToLower(query), " ", "")
		for _, f := range files {
			if strings.Contains(strings.ReplaceAll(strings.ToLower(f), "_", ""), needle) {
				return f, nil
			}
		}
		log.Warn("Song not found, picking random", "query", query)
	}

	return files[l.intn(len(files))], nil
}

func (l *Library) Open(_ context.Context, query string) (io.ReadCloser, error) {
	name, err := l.Pick(query)
	if err != nil {
		return nil, err
	}

	log.Info("Playing song", "file", name)
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return nil, fmt.Errorf("open song: %w", err)
	}
	return f, nil
}

func (l *Library) list() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: library %s does not exist", ErrNotFound, l.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp3") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	return files, nil
}
