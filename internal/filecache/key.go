package filecache

import (
	"path/filepath"
	"strconv"
)

// Key identifies one cached artifact: which Index Source it came from, its
// normalized project name, and its file name.
type Key struct {
	IndexID  int
	Project  string
	Filename string
}

// dir returns the on-disk directory holding this key's artifact:
// <cache-dir>/<index-id>/<normalized-project>/.
func (k Key) dir(baseDir string) string {
	return filepath.Join(baseDir, strconv.Itoa(k.IndexID), k.Project)
}

// path returns the final on-disk path for this key's artifact.
func (k Key) path(baseDir string) string {
	return filepath.Join(k.dir(baseDir), k.Filename)
}
