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

// Package inspectortest scripts the inspection tools for a described disk layout.
package inspectortest

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos/utils/exec/exectest"
)

type lv struct {
	pv   string
	name string
}

// Layout describes the disks, LVM volumes and superblocks a test host sees.
type Layout struct {
	labels     map[string]string
	partitions map[string][]string
	devices    []string
	pvs        []string
	lvs        []lv
	blkids     map[string]string
}

func NewLayout() *Layout {
	return &Layout{
		labels:     map[string]string{},
		partitions: map[string][]string{},
		blkids:     map[string]string{},
	}
}

// Disk adds a device with the given disk label and partition paths.
func (l *Layout) Disk(device, label string, partitions ...string) *Layout {
	l.devices = append(l.devices, device)
	l.labels[device] = label
	l.partitions[device] = partitions
	return l
}

// PV marks path as an LVM physical volume hosting the named LVs (/dev/vg/lv).
func (l *Layout) PV(path string, lvNames ...string) *Layout {
	l.pvs = append(l.pvs, path)
	for _, name := range lvNames {
		l.lvs = append(l.lvs, lv{pv: path, name: name})
	}
	return l
}

// BlockID sets the superblock blkid reports for path. An empty fsType
// makes blkid exit with status 2.
func (l *Layout) BlockID(path, uuid, fsType string) *Layout {
	if fsType == "" {
		delete(l.blkids, path)
		return l
	}
	if uuid == "" {
		l.blkids[path] = fmt.Sprintf(`%s: TYPE="%s"`, path, fsType)
	} else {
		l.blkids[path] = fmt.Sprintf(`%s: UUID="%s" TYPE="%s" PARTUUID="%s-part"`, path, uuid, fsType, fsType)
	}
	return l
}

func (l *Layout) fdisk(device string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Disk %s: 20 GiB, 21474836480 bytes, 41943040 sectors\n", device)
	fmt.Fprintf(&b, "Units: sectors of 1 * 512 = 512 bytes\n")
	if label := l.labels[device]; label != "" {
		fmt.Fprintf(&b, "Disklabel type: %s\n", label)
	}
	b.WriteString("\nDevice     Boot   Start      End  Sectors Size Id Type\n")
	for i, p := range l.partitions[device] {
		fmt.Fprintf(&b, "%s  %d  %d  2097152   1G 83 Linux\n", p, 2048+i*2097152, 2099199+i*2097152)
	}
	return b.String()
}

func (l *Layout) pvdisplay(pv string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  --- Physical volume ---\n  PV Name               %s\n\n  --- Physical Segments ---\n", pv)
	i := 0
	for _, v := range l.lvs {
		if v.pv != pv {
			continue
		}
		fmt.Fprintf(&b, "  Physical extent %d to %d:\n    Logical volume\t%s\n    Logical extents\t0 to 511\n", i*512, i*512+511, v.name)
		i++
	}
	return b.String()
}

// Script registers the layout's tool output on fake and returns it.
func (l *Layout) Script(fake *exectest.FakeExecutor) *exectest.FakeExecutor {
	for _, device := range l.devices {
		fake.On("fdisk -l "+device, l.fdisk(device))
	}

	var pvs strings.Builder
	for _, pv := range l.pvs {
		fmt.Fprintf(&pvs, "  LVM2_PV_NAME='%s',LVM2_VG_NAME='vg'\n", pv)
		fake.On("pvdisplay -m "+pv, l.pvdisplay(pv))
	}
	fake.On("pvs --noheadings --separator=, --nameprefixes -o pv_name,vg_name", pvs.String())

	paths := []string{}
	for _, device := range l.devices {
		paths = append(paths, l.partitions[device]...)
	}
	for _, v := range l.lvs {
		paths = append(paths, dmPath(v.name))
	}
	for _, p := range paths {
		if out, ok := l.blkids[p]; ok {
			fake.On("blkid -c /dev/null "+p, out)
		} else {
			fake.OnExit("blkid -c /dev/null "+p, "", 2)
		}
	}
	return fake
}

// Executor returns a fresh fake executor scripted with the layout.
func (l *Layout) Executor() *exectest.FakeExecutor {
	return l.Script(exectest.NewFakeExecutor())
}

func dmPath(name string) string {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	vg := strings.ReplaceAll(parts[len(parts)-2], "-", "--")
	lv := strings.ReplaceAll(parts[len(parts)-1], "-", "--")
	return fmt.Sprintf("/dev/mapper/%s-%s", vg, lv)
}
