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

package fstab

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/log"
)

const uuidPrefix = "UUID="

// UUIDResolver maps a filesystem UUID to a volume path.
type UUIDResolver interface {
	LookupUUID(uuid string) (string, bool)
}

// ScopedMounter mounts a volume for the duration of fn and always releases it.
type ScopedMounter interface {
	WithMount(from, to string, fn func(mountpoint string) error) error
}

// Parse reads a classic fstab. Comments, blank lines and lines with fewer
// than three fields are skipped, as are sources that are neither absolute
// paths nor UUID references. Entries keep their input order.
func Parse(r io.Reader, resolver UUIDResolver) ([]types.FstabEntry, error) {
	entries := []types.FstabEntry{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			log.Debugf("skip short fstab line: %s", line)
			continue
		}

		path := fields[0]
		switch {
		case strings.HasPrefix(path, uuidPrefix):
			id := strings.Trim(strings.TrimPrefix(path, uuidPrefix), `"`)
			resolved, ok := resolver.LookupUUID(id)
			if !ok {
				return nil, fmt.Errorf("%w: %s in fstab line %q", types.ErrUnresolvedUUID, id, line)
			}
			log.Debugf("Mapped UUID %s to device path: %s", id, resolved)
			path = resolved
		case !strings.HasPrefix(path, "/"):
			log.Debugf("Skipping fstab system path: %s", path)
			continue
		}

		entry := types.FstabEntry{
			Path:       unescape(path),
			Mountpoint: unescape(fields[1]),
			FSType:     fields[2],
		}
		if len(fields) > 3 {
			entry.Options = fields[3]
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fstab: %w", err)
	}
	return entries, nil
}

// ReadFile parses the fstab found below root.
func ReadFile(root string, resolver UUIDResolver) ([]types.FstabEntry, error) {
	f, err := os.Open(filepath.Join(root, voithos.FstabPath))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, resolver)
}

// unescape decodes the octal escapes fstab uses for whitespace, \040 for a space.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// HasFstab reports whether a mounted volume carries etc/fstab.
func HasFstab(mountpoint string) bool {
	return utils.FileExists(filepath.Join(mountpoint, voithos.FstabPath))
}

// FindRootCandidates mounts every candidate at mountpoint in turn and returns
// the ones holding etc/fstab, in candidate order. A candidate that cannot be
// mounted is not root.
func FindRootCandidates(p ScopedMounter, candidates []string, mountpoint string) ([]string, error) {
	found := []string{}
	for _, vol := range candidates {
		isRoot := false
		err := p.WithMount(vol, mountpoint, func(mp string) error {
			log.Debugf("Checking for %s", filepath.Join(mp, voithos.FstabPath))
			isRoot = HasFstab(mp)
			return nil
		})
		if err != nil {
			var me *types.MountError
			if errors.As(err, &me) && me.Op == "mount" {
				log.Debugf("%s is not the root volume: %v", vol, err)
				continue
			}
			return nil, err
		}
		if isRoot {
			found = append(found, vol)
		}
	}
	return found, nil
}

// FindRootVolume returns the single candidate holding etc/fstab.
func FindRootVolume(p ScopedMounter, candidates []string, mountpoint string, devices []string) (string, error) {
	log.Debug("START: looking for root volume")
	found, err := FindRootCandidates(p, candidates, mountpoint)
	if err != nil {
		return "", err
	}
	log.Debugf("DONE: looking for root volume, found %v", found)

	switch len(found) {
	case 0:
		return "", &types.RootVolumeError{Devices: devices, Err: types.ErrRootVolumeNotFound}
	case 1:
		return found[0], nil
	default:
		return "", &types.RootVolumeError{Devices: devices, Candidates: found, Err: types.ErrAmbiguousRootVolume}
	}
}
