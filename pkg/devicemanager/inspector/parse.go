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

package inspector

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/log"
)

/*
# fdisk -l /dev/vda
Disk /dev/vda: 20 GiB, 21474836480 bytes, 41943040 sectors
Units: sectors of 1 * 512 = 512 bytes
Disklabel type: dos
Disk identifier: 0x000b1a0c

Device     Boot   Start      End  Sectors Size Id Type
/dev/vda1  *       2048  2099199  2097152   1G 83 Linux
/dev/vda2       2099200 41943039 39843840  19G 8e Linux LVM
*/
func parsePartitions(device, fdisk string) []string {
	partitions := []string{}
	for _, line := range strings.Split(fdisk, "\n") {
		if !strings.HasPrefix(line, device) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		partitions = utils.AppendUnique(partitions, fields[0])
	}
	return partitions
}

// parseDiskLabel returns the last token of the "Disklabel type:" line.
func parseDiskLabel(fdisk string) (string, bool) {
	for _, line := range strings.Split(fdisk, "\n") {
		if !strings.Contains(line, "Disklabel type:") {
			continue
		}
		fields := strings.Fields(line)
		return fields[len(fields)-1], true
	}
	return "", false
}

/*
# blkid -c /dev/null /dev/vda1
/dev/vda1: UUID="4b1e8a1c-3c8e-4a8c-9d4c-1f2d0c6d3a11" TYPE="xfs" PARTUUID="000b1a0c-01"
*/
func parseBlkid(path, blkid string) types.BlockID {
	id := types.BlockID{Path: path}
	for _, line := range strings.Split(blkid, "\n") {
		i := strings.Index(line, ":")
		if i < 0 || strings.TrimSpace(line[:i]) != path {
			continue
		}
		props := parseKeyValuePairString(line[i+1:])
		id.UUID = props["UUID"]
		id.Type = props["TYPE"]
		return id
	}
	return id
}

// converts a raw key value pair string into a map of key value pairs
// example raw string of `foo="0" bar="1" baz="biz baz"` is returned as:
// map[string]string{"foo":"0", "bar":"1", "baz":"biz baz"}
// quoted values may contain spaces
func parseKeyValuePairString(propsRaw string) map[string]string {
	propMap := map[string]string{}
	var key, value strings.Builder
	inKey, inQuote := true, false

	flush := func() {
		if key.Len() > 0 {
			propMap[key.String()] = value.String()
		}
		key.Reset()
		value.Reset()
		inKey = true
	}

	for _, r := range propsRaw {
		switch {
		case inQuote && r == '"':
			inQuote = false
		case inQuote:
			value.WriteRune(r)
		case r == '"':
			inQuote = true
		case r == ' ' || r == '\t':
			flush()
		case inKey && r == '=':
			inKey = false
		case inKey:
			key.WriteRune(r)
		default:
			value.WriteRune(r)
		}
	}
	flush()
	return propMap
}

func parsePvs(pvsString string) []string {
	// LVM2_PV_NAME='/dev/vda2',LVM2_VG_NAME='centos'
	// LVM2_PV_NAME='/dev/vdb',LVM2_VG_NAME='data'
	resp := []string{}

	if pvsString == "" {
		return resp
	}

	pvsString = strings.ReplaceAll(pvsString, "'", "")
	pvsString = strings.ReplaceAll(pvsString, " ", "")

	pvsList := strings.Split(pvsString, "\n")
	for _, pvs := range pvsList {
		pv := strings.Split(pvs, ",")
		for _, v := range pv {
			k := strings.SplitN(v, "=", 2)
			if len(k) != 2 {
				continue
			}

			switch k[0] {
			case "LVM2_PV_NAME":
				if strings.HasPrefix(k[1], "/dev/") {
					resp = utils.AppendUnique(resp, k[1])
				}
			case "LVM2_VG_NAME":
			default:
				log.Warnf("undefined field %s=%s", k[0], k[1])
			}
		}
	}
	return resp
}

/*
# pvdisplay -m /dev/vda2
  --- Physical volume ---
  PV Name               /dev/vda2
  VG Name               centos
  ...
  --- Physical Segments ---
  Physical extent 0 to 511:
    Logical volume	/dev/centos/swap
    Logical extents	0 to 511
  Physical extent 512 to 4863:
    Logical volume	/dev/centos/root
    Logical extents	0 to 4351
*/
func parsePvdisplay(pv, pvdisplay string) []types.LogicalVolume {
	resp := []types.LogicalVolume{}
	seen := map[string]bool{}
	for _, line := range strings.Split(pvdisplay, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Logical volume") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "Logical volume"))
		if name == "" {
			continue
		}
		dmPath, err := DeviceMapperPath(name)
		if err != nil {
			log.Warnf("skip logical volume %s on %s: %v", name, pv, err)
			continue
		}
		if seen[dmPath] {
			continue
		}
		seen[dmPath] = true
		resp = append(resp, types.LogicalVolume{
			Name:            name,
			DMPath:          dmPath,
			PhysicalVolumes: []string{pv},
		})
	}
	return resp
}

// DeviceMapperPath converts /dev/vg/lv to /dev/mapper/vg-lv. Hyphens inside
// either name are doubled the way device-mapper does it.
func DeviceMapperPath(lvName string) (string, error) {
	parts := strings.Split(strings.Trim(lvName, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("unexpected logical volume name %q", lvName)
	}
	vg := strings.ReplaceAll(parts[len(parts)-2], "-", "--")
	lv := strings.ReplaceAll(parts[len(parts)-1], "-", "--")
	return fmt.Sprintf("%s/%s-%s", voithos.DeviceMapperDir, vg, lv), nil
}
