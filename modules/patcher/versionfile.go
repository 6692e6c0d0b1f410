package patcher

import (
	"os"
	"path/filepath"

	"github.com/NebulousLabs/errors"

	"github.com/patchkit-go/patchkit/build"
	"github.com/patchkit-go/patchkit/index"
)

// WriteVersionFiles creates the parent directories if needed and writes
// ix.VersionName() as plain text to both VersionFileVer and VersionFileBck
// under rootPath. A sidecar already stamped with a version equal to or
// newer than ix.VersionName() (per build.VersionCmp) is left untouched,
// rather than unconditionally overwritten: a completed install calling
// this twice, or one invoked against an older index by mistake, must not
// regress the recorded version.
func WriteVersionFiles(ix index.Index, rootPath string) error {
	version := []byte(ix.VersionName())
	for _, rel := range []string{ix.VersionFileVer(), ix.VersionFileBck()} {
		path := filepath.Join(rootPath, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Extend(err, errors.New("could not create version file directory"))
		}
		if isStale(ix.VersionName(), path) {
			continue
		}
		if err := os.WriteFile(path, version, 0644); err != nil {
			return errors.Extend(err, errors.New("could not write version file"))
		}
	}
	return nil
}

// isStale reports whether installedVersion is not newer than whatever
// version is already stamped at path. A missing or unparseable sidecar is
// never considered stale, since there's nothing valid to compare against.
func isStale(installedVersion, path string) bool {
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	existingVersion := string(existing)
	if !build.IsVersion(existingVersion) || !build.IsVersion(installedVersion) {
		return false
	}
	return build.VersionCmp(installedVersion, existingVersion) <= 0
}
