// Package source turns local paths into batch inputs for the command line.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"image-uploader-go/internal/media"

	"github.com/gabriel-vasile/mimetype"
)

const genericMimeType = "application/octet-stream"

// DefaultExtensions are the file extensions picked up when walking directories.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// Collect expands paths into a sorted list of files. Directories are walked
// recursively and only files with one of the given extensions are kept.
// Files named explicitly are always kept.
func Collect(paths []string, extensions []string) ([]string, error) {
	extSet := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		extSet[e] = struct{}{}
	}

	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}

	for _, in := range paths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", in, err)
		}
		if !info.IsDir() {
			add(in)
			continue
		}

		var found []string
		err = filepath.WalkDir(in, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if _, ok := extSet[strings.ToLower(filepath.Ext(d.Name()))]; ok {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", in, err)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}
	return files, nil
}

// DetectMimeType returns declared unless it is empty or generic, in which
// case the content is sniffed and the extension is the last resort.
func DetectMimeType(name, declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != genericMimeType {
		return declared
	}

	if m := mimetype.Detect(data); !m.Is(genericMimeType) {
		t := m.String()
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return media.MimeTypeForExtension(name)
}

// Load reads every file concurrently and returns inputs in the order of files.
func Load(ctx context.Context, files []string) ([]media.RawInput, error) {
	if len(files) == 0 {
		return nil, nil
	}

	type job struct {
		index int
		path  string
	}

	numWorkers := min(max(runtime.NumCPU(), 2), len(files))
	jobs := make(chan job, len(files))
	inputs := make([]media.RawInput, len(files))
	errs := make([]error, len(files))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					errs[j.index] = err
					continue
				}
				data, err := os.ReadFile(j.path)
				if err != nil {
					errs[j.index] = fmt.Errorf("read %s: %w", j.path, err)
					continue
				}
				name := filepath.Base(j.path)
				inputs[j.index] = media.NewRawInput(name, DetectMimeType(name, "", data), data)
			}
		}()
	}

	for i, p := range files {
		jobs <- job{index: i, path: p}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}
