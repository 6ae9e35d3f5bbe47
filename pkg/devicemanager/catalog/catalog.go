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

package catalog

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos/pkg/devicemanager/inspector"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/log"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Catalog is the cross-referenced view of the volumes on a device set.
// It is immutable once built.
type Catalog struct {
	devices        []string
	partitions     []string
	parents        map[string]string
	pvs            []string
	logicalVolumes []types.LogicalVolume
	blockIDs       map[string]types.BlockID
	uuids          map[string]string
	dataVolumes    []string
}

// Build queries the inspector for every device and assembles the catalog.
func Build(insp inspector.DeviceInspector, devices []string) (*Catalog, error) {
	c := &Catalog{
		devices:  append([]string{}, devices...),
		parents:  map[string]string{},
		blockIDs: map[string]types.BlockID{},
		uuids:    map[string]string{},
	}

	log.Debug("START: finding partitions")
	for _, device := range devices {
		parts, err := insp.Partitions(device)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			if _, ok := c.parents[p]; !ok {
				c.parents[p] = device
			}
		}
		c.partitions = utils.AppendUnique(c.partitions, parts...)
	}
	log.Debugf("DONE: finding partitions %v", c.partitions)

	log.Debug("START: finding LVM physical volumes")
	allPVs, err := insp.PhysicalVolumes()
	if err != nil {
		return nil, err
	}
	pvSet := sets.NewString(allPVs...)
	for _, candidate := range append(append([]string{}, c.partitions...), devices...) {
		if pvSet.Has(candidate) {
			c.pvs = utils.AppendUnique(c.pvs, candidate)
		}
	}
	for _, device := range devices {
		if pvSet.Has(device) {
			c.parents[device] = device
		}
	}
	log.Debugf("DONE: finding LVM physical volumes %v", c.pvs)

	log.Debug("START: finding LVM logical volumes")
	index := map[string]int{}
	for _, pv := range c.pvs {
		lvs, err := insp.LogicalVolumes(pv)
		if err != nil {
			return nil, err
		}
		for _, lv := range lvs {
			if i, ok := index[lv.DMPath]; ok {
				c.logicalVolumes[i].PhysicalVolumes = utils.AppendUnique(c.logicalVolumes[i].PhysicalVolumes, pv)
				continue
			}
			index[lv.DMPath] = len(c.logicalVolumes)
			c.logicalVolumes = append(c.logicalVolumes, types.LogicalVolume{
				Name:            lv.Name,
				DMPath:          lv.DMPath,
				PhysicalVolumes: []string{pv},
			})
		}
	}
	log.Debugf("DONE: finding LVM logical volumes %v", c.LogicalVolumePaths())

	log.Debug("START: query blkid data")
	for _, path := range append(append([]string{}, c.partitions...), c.LogicalVolumePaths()...) {
		id, err := insp.BlockID(path)
		if err != nil {
			return nil, err
		}
		c.blockIDs[path] = id
		if id.UUID == "" {
			continue
		}
		key := normalizeUUID(id.UUID)
		if prev, ok := c.uuids[key]; ok && prev != path {
			log.Warnf("UUID %s is shared by %s and %s, keeping %s", id.UUID, prev, path, prev)
			continue
		}
		c.uuids[key] = path
	}
	log.Debug("DONE: query blkid data")

	pvPaths := sets.NewString(c.pvs...)
	for _, vol := range append(append([]string{}, c.partitions...), c.LogicalVolumePaths()...) {
		if pvPaths.Has(vol) || c.blockIDs[vol].IsSwap() {
			continue
		}
		c.dataVolumes = utils.AppendUnique(c.dataVolumes, vol)
	}
	log.Debugf("data volumes: %v", c.dataVolumes)

	return c, nil
}

// normalizeUUID makes RFC 4122 UUIDs comparable regardless of case. Other
// identifiers, such as vfat volume ids, are compared as upper case.
func normalizeUUID(s string) string {
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return strings.ToUpper(s)
}

func (c *Catalog) Devices() []string {
	return append([]string{}, c.devices...)
}

func (c *Catalog) Partitions() []string {
	return append([]string{}, c.partitions...)
}

func (c *Catalog) PhysicalVolumes() []string {
	return append([]string{}, c.pvs...)
}

func (c *Catalog) LogicalVolumes() []types.LogicalVolume {
	resp := make([]types.LogicalVolume, 0, len(c.logicalVolumes))
	for _, lv := range c.logicalVolumes {
		lv.PhysicalVolumes = append([]string{}, lv.PhysicalVolumes...)
		resp = append(resp, lv)
	}
	return resp
}

// LogicalVolumePaths returns the device-mapper path of every LV.
func (c *Catalog) LogicalVolumePaths() []string {
	resp := make([]string, 0, len(c.logicalVolumes))
	for _, lv := range c.logicalVolumes {
		resp = append(resp, lv.DMPath)
	}
	return resp
}

// DataVolumes are the partitions and LVs that may hold a filesystem:
// neither an LVM PV nor swap, in first-discovery order.
func (c *Catalog) DataVolumes() []string {
	return append([]string{}, c.dataVolumes...)
}

func (c *Catalog) BlockID(path string) (types.BlockID, bool) {
	id, ok := c.blockIDs[path]
	return id, ok
}

// LookupUUID resolves a filesystem UUID to the volume carrying it.
func (c *Catalog) LookupUUID(id string) (string, bool) {
	path, ok := c.uuids[normalizeUUID(id)]
	return path, ok
}

// ParentDevice returns the input device a partition or LV lives on. For an
// LV spanning several PVs, the first PV's device is returned.
func (c *Catalog) ParentDevice(path string) (string, error) {
	if device, ok := c.parents[path]; ok {
		return device, nil
	}
	for _, lv := range c.logicalVolumes {
		if lv.DMPath != path && lv.Name != path {
			continue
		}
		if device, ok := c.parents[lv.PhysicalVolumes[0]]; ok {
			return device, nil
		}
	}
	return "", fmt.Errorf("%s is not a volume on devices %v", path, c.devices)
}
