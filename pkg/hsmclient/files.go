package hsmclient

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/saracen/walker"
)

// CollectFiles turns command line arguments into absolute paths of regular files.
// Directories are expanded only when recursive is set.
func CollectFiles(args []string, recursive bool) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)

	add := func(path string) {
		mu.Lock()
		files = append(files, path)
		mu.Unlock()
	}

	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}

		fi, err := os.Lstat(path)
		if err != nil {
			return nil, err
		}

		switch {
		case fi.Mode().IsRegular():
			add(path)
		case fi.IsDir() && !recursive:
			return nil, errors.Errorf("%s is a directory, use -r to include its files", arg)
		case fi.IsDir():
			err := walker.Walk(path, func(pathname string, fi os.FileInfo) error {
				if fi.Mode().IsRegular() {
					add(pathname)
				}
				return nil
			})
			if err != nil {
				return nil, errors.Wrapf(err, "unable to walk %s", arg)
			}
		default:
			return nil, errors.Errorf("%s is not a regular file", arg)
		}
	}

	sort.Strings(files)
	return files, nil
}
