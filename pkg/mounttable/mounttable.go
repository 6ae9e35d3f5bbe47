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

// Package mounttable reads the host mount namespace.
package mounttable

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/prometheus/procfs"
)

// overridden in tests
var getMounts = procfs.GetMounts

// Under returns every live mount at or below base, ordered by mountpoint.
func Under(base string) ([]types.MountPoint, error) {
	mounts, err := getMounts()
	if err != nil {
		return nil, fmt.Errorf("failed to read mountinfo: %w", err)
	}
	base = filepath.Clean(base)
	resp := []types.MountPoint{}
	for _, m := range mounts {
		if m.MountPoint != base && !strings.HasPrefix(m.MountPoint, base+"/") {
			continue
		}
		resp = append(resp, types.MountPoint{
			Source: m.Source,
			Target: m.MountPoint,
			FSType: m.FSType,
		})
	}
	sort.SliceStable(resp, func(i, j int) bool {
		return resp[i].Target < resp[j].Target
	})
	return resp, nil
}

// Source returns the source mounted at mountpoint, "" when nothing is.
// When mounts are stacked the most recent wins.
func Source(mountpoint string) (string, error) {
	mounts, err := getMounts()
	if err != nil {
		return "", fmt.Errorf("failed to read mountinfo: %w", err)
	}
	mountpoint = filepath.Clean(mountpoint)
	source := ""
	for _, m := range mounts {
		if m.MountPoint == mountpoint {
			source = m.Source
		}
	}
	return source, nil
}
