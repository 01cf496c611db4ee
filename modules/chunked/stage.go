// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"os"
	"path/filepath"
)

// LinkStage symlinks uid's backing file (in dataDir) into stageDir, the
// way spec §3's Lifecycles section describes new tensor bytes landing:
// "written to a stage-data container (symlink -> backing file in a
// shared data dir)". A no-op if the symlink already exists.
func LinkStage(dataDir, stageDir, uid string) error {
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return err
	}
	link := dataPath(stageDir, uid)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	target, err := filepath.Rel(stageDir, dataPath(dataDir, uid))
	if err != nil {
		target = dataPath(dataDir, uid)
	}
	return os.Symlink(target, link)
}

// PromoteToStore moves uid's symlink from stageDir to storeDir on commit
// (spec §3: "On commit they move (symlinks move) to the store-data dir").
// The backing file in dataDir is never touched. A no-op if uid was never
// staged or was already promoted.
func PromoteToStore(dataDir, stageDir, storeDir, uid string) error {
	stageLink := dataPath(stageDir, uid)
	if _, err := os.Lstat(stageLink); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return err
	}
	storeLink := dataPath(storeDir, uid)
	if _, err := os.Lstat(storeLink); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		target, relErr := filepath.Rel(storeDir, dataPath(dataDir, uid))
		if relErr != nil {
			target = dataPath(dataDir, uid)
		}
		if err := os.Symlink(target, storeLink); err != nil {
			return err
		}
	}
	return os.Remove(stageLink)
}
