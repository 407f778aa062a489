/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package backupengine

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/cloudnative-pg/pg-backup-core/pkg/manifest"
)

const (
	defaultPathMode = 0o750
	defaultFileMode = 0o640
)

// skipNames are transient, cluster-local files that never belong in a
// backup: the postmaster pid and options files, relcache init files, a
// stale backup_label and recovery/standby configuration files. Stats and
// WAL directories are handled by skipDirs below.
var skipNames = map[string]bool{
	"postmaster.pid":     true,
	"postmaster.opts":    true,
	"pg_internal.init":   true,
	"backup_label.old":   true,
	"recovery.conf":      true,
	"recovery.signal":    true,
	"standby.signal":     true,
}

// masterReadSuffixes are cluster-relative paths that must always be read
// from the primary, even when --backup-standby routes every other file to
// the standby: pg_control's own header reflects the server that wrote it,
// and a standby's copy can momentarily lag or diverge around a checkpoint
// in a way the primary's never does.
var masterReadSuffixes = []string{
	"/global/pg_control",
}

// skipDirs are directories whose contents are never walked, though the
// directory entry itself is still recorded (so restore can recreate it).
var skipDirs = map[string]bool{
	"pg_wal":        true,
	"pg_xlog":       true,
	"pg_stat_tmp":   true,
	"pg_replslot":   true,
	"pg_dynshmem":   true,
	"pg_notify":     true,
	"pg_serial":     true,
	"pg_snapshots":  true,
	"pg_subtrans":   true,
}

// TargetPlan is one filesystem subtree to walk into a manifest target:
// the primary data directory, or one tablespace.
type TargetPlan struct {
	Name string
	Kind manifest.TargetKind
	Path string

	TablespaceOID  string
	TablespaceName string
}

// WalkCluster enumerates every target in plans, recording paths, files,
// and links into m, and computes the defaults section from the most
// common mode/user/group observed. archiveCopy controls whether pg_wal's
// own contents (not just the directory entry) are included — normally
// false, since WAL reaches the repository through archiving, not a cold
// copy.
func WalkCluster(m *manifest.Manifest, plans []TargetPlan, archiveCopy bool) error {
	pathModeCounts := map[string]int{}
	fileModeCounts := map[string]int{}
	userCounts := map[string]int{}
	groupCounts := map[string]int{}

	for _, plan := range plans {
		target := manifest.Target{
			Name: plan.Name,
			Kind: plan.Kind,
			Path: plan.Path,
		}
		if plan.TablespaceOID != "" {
			target.TablespaceID = plan.TablespaceOID
			target.TablespaceName = plan.TablespaceName
		}
		m.AddTarget(&target)

		err := filepath.Walk(plan.Path, func(fullPath string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fullPath == plan.Path {
				return nil
			}

			relName := plan.Name + "/" + filepath.ToSlash(strings.TrimPrefix(fullPath, plan.Path+string(filepath.Separator)))
			base := filepath.Base(fullPath)

			if info.IsDir() {
				mode, uid, gid := statOwnership(info, true)
				m.AddPath(&manifest.PathEntry{Name: relName, Mode: mode, User: uid, Group: gid})
				pathModeCounts[mode]++
				userCounts[uid]++
				groupCounts[gid]++
				if skipDirs[base] && !(archiveCopy && (base == "pg_wal" || base == "pg_xlog")) {
					return filepath.SkipDir
				}
				return nil
			}

			if skipNames[base] {
				return nil
			}

			if info.Mode()&os.ModeSymlink != 0 {
				dest, err := os.Readlink(fullPath)
				if err != nil {
					return err
				}
				m.AddLink(&manifest.LinkEntry{Name: relName, Destination: dest})
				return nil
			}

			if !info.Mode().IsRegular() {
				return nil
			}

			mode, uid, gid := statOwnership(info, false)
			fileModeCounts[mode]++
			userCounts[uid]++
			groupCounts[gid]++

			m.AddFile(&manifest.FileEntry{
				Name:       relName,
				Size:       info.Size(),
				Timestamp:  info.ModTime().Unix(),
				Mode:       mode,
				User:       uid,
				Group:      gid,
				MasterRead: isMasterReadOnly(relName),
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("walking %s: %w", plan.Path, err)
		}
	}

	m.Defaults = manifest.Defaults{
		PathMode: mostCommonString(pathModeCounts, fmt.Sprintf("%04o", defaultPathMode)),
		FileMode: mostCommonString(fileModeCounts, fmt.Sprintf("%04o", defaultFileMode)),
		User:     mostCommonString(userCounts, currentUserName()),
		Group:    mostCommonString(groupCounts, currentGroupName()),
	}

	return nil
}

func isMasterReadOnly(relName string) bool {
	for _, suffix := range masterReadSuffixes {
		if strings.HasSuffix(relName, suffix) {
			return true
		}
	}
	return false
}

func statOwnership(info os.FileInfo, isDir bool) (mode, uid, gid string) {
	perm := info.Mode().Perm()
	if perm == 0 {
		if isDir {
			perm = defaultPathMode
		} else {
			perm = defaultFileMode
		}
	}
	mode = fmt.Sprintf("%04o", uint32(perm))

	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		if u, err := user.LookupId(strconv.Itoa(int(sys.Uid))); err == nil {
			uid = u.Username
		}
		if g, err := user.LookupGroupId(strconv.Itoa(int(sys.Gid))); err == nil {
			gid = g.Name
		}
	}
	return mode, uid, gid
}

func mostCommonString(counts map[string]int, fallback string) string {
	best, bestCount := fallback, -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func currentUserName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func currentGroupName() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	g, err := user.LookupGroupId(u.Gid)
	if err != nil {
		return ""
	}
	return g.Name
}
