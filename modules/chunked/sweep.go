// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"os"
	"path/filepath"
	"strings"
)

// SweepUnused removes every stageDir symlink (and its backing file in
// dataDir) whose file uid is absent from liveUIDs — spec §4.1's Cleanup
// subsystem: "uids present as *.ext in stage-data but absent from the
// stage-hash index have their symlink and backing file deleted." Callers
// derive liveUIDs from HashIndex.ListPending() so the criterion is index
// membership, not filesystem dangling-ness.
func SweepUnused(dataDir, stageDir string, liveUIDs map[string]bool) (removed int, err error) {
	entries, err := os.ReadDir(stageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return removed, err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		uid := strings.TrimSuffix(e.Name(), ".bin")
		if liveUIDs[uid] {
			continue
		}
		if err := os.Remove(filepath.Join(stageDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		if err := os.Remove(dataPath(dataDir, uid)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		if err := os.Remove(idxPath(dataDir, uid)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
