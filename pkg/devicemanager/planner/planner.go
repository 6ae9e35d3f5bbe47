/*
   Copyright @ 2022 The Voithos Authors.

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

package planner

import (
	"path"
	"strings"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils/log"
)

const swapMountpoint = "swap"

// Plan turns the guest fstab into an ordered list of mount operations that
// rebuild the guest hierarchy under the chroot root, followed by the system
// bind mounts. hasRunDir adds /run to the system binds.
func Plan(cfg configuration.Config, entries []types.FstabEntry, hasRunDir bool) []types.MountOp {
	mountable := []types.FstabEntry{}
	for _, e := range entries {
		if e.Mountpoint == swapMountpoint || !strings.HasPrefix(e.Mountpoint, "/") {
			continue
		}
		mountable = append(mountable, e)
	}

	ops := []types.MountOp{}
	for _, i := range order(mountable) {
		ops = append(ops, entryOps(cfg, mountable[i])...)
	}

	binds := append([]string{}, cfg.SystemBindMounts...)
	if hasRunDir {
		binds = append(binds, voithos.RunDir)
	}
	for _, p := range binds {
		ops = append(ops, types.MountOp{From: p, To: cfg.ChrootPath(p), Bind: true})
	}
	log.Debugf("mount plan: %v", ops)
	return ops
}

func entryOps(cfg configuration.Config, e types.FstabEntry) []types.MountOp {
	switch {
	case e.Mountpoint == "/":
		return []types.MountOp{{From: e.Path, To: cfg.RootMount(), Bind: false}}
	case e.IsBind():
		// both sides live in the already mounted root
		return []types.MountOp{{From: cfg.ChrootPath(e.Path), To: cfg.ChrootPath(e.Mountpoint), Bind: true}}
	default:
		// the chroot target may not exist until root is populated, so the
		// device goes to a scratch dir first and is bound in from there
		scratch := cfg.ScratchMount(e.Mountpoint)
		return []types.MountOp{
			{From: e.Path, To: scratch, Bind: false},
			{From: scratch, To: cfg.ChrootPath(e.Mountpoint), Bind: true},
		}
	}
}

// Reverse returns the teardown order, the exact reverse of ops.
func Reverse(ops []types.MountOp) []types.MountOp {
	resp := make([]types.MountOp, len(ops))
	for i, op := range ops {
		resp[len(ops)-1-i] = op
	}
	return resp
}

// order sorts entries so every mount comes after the mounts it sits on: a
// parent mountpoint before its children, and a bind source's mount before
// the bind. Independent entries keep their fstab order.
func order(entries []types.FstabEntry) []int {
	n := len(entries)
	deps := make([][]int, n)
	indegree := make([]int, n)
	for i := range entries {
		for j := range entries {
			if i == j || !dependsOn(entries[i], entries[j]) {
				continue
			}
			deps[j] = append(deps[j], i)
			indegree[i]++
		}
	}

	resp := make([]int, 0, n)
	done := make([]bool, n)
	for len(resp) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			// a cycle between bind mounts, keep the remaining fstab order
			for i := 0; i < n; i++ {
				if !done[i] {
					log.Warnf("fstab entry %s has circular mount dependencies", entries[i].Mountpoint)
					resp = append(resp, i)
					done[i] = true
				}
			}
			break
		}
		done[next] = true
		resp = append(resp, next)
		for _, d := range deps[next] {
			indegree[d]--
		}
	}
	return resp
}

// dependsOn reports whether a must be mounted after b.
func dependsOn(a, b types.FstabEntry) bool {
	if isUnder(a.Mountpoint, b.Mountpoint) {
		return true
	}
	if !a.IsBind() {
		return false
	}
	return path.Clean(a.Path) == path.Clean(b.Mountpoint) || isUnder(a.Path, b.Mountpoint)
}

// isUnder reports whether p lies strictly below dir.
func isUnder(p, dir string) bool {
	p, dir = path.Clean(p), path.Clean(dir)
	if p == dir {
		return false
	}
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}
