package util

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

//
// WriteFileAtomic replaces path with data via a synced temp file and a
// rename, so readers see either the old or the new content.
//
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "cannot create dir")
	}
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "cannot create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cannot write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cannot sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cannot close temp file")
	}
	return errors.Wrapf(os.Rename(tmpName, path), "cannot replace %s", path)
}
