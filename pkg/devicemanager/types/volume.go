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

package types

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos"
)

// LogicalVolume is an LVM volume as reported by pvdisplay
type LogicalVolume struct {
	// Name is the LVM path, /dev/vg/lv
	Name string `json:"name" yaml:"name"`
	// DMPath is the device-mapper path, /dev/mapper/vg-lv
	DMPath string `json:"dmPath" yaml:"dmPath"`
	// PhysicalVolumes are the PVs this LV has extents on, in discovery order
	PhysicalVolumes []string `json:"physicalVolumes" yaml:"physicalVolumes"`
}

// BlockID is the superblock identity blkid reports for a path
type BlockID struct {
	Path string `json:"path" yaml:"path"`
	UUID string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

func (b BlockID) IsSwap() bool {
	return b.Type == voithos.SwapType
}

// FstabEntry is one resolved line of the guest's /etc/fstab
type FstabEntry struct {
	// Path is the device or directory to mount, UUID references already resolved
	Path       string `json:"path" yaml:"path"`
	Mountpoint string `json:"mountpoint" yaml:"mountpoint"`
	FSType     string `json:"fstype" yaml:"fstype"`
	Options    string `json:"options" yaml:"options"`
}

// IsBind reports whether the entry's options ask for a bind mount.
func (e FstabEntry) IsBind() bool {
	return strings.Contains(e.Options, voithos.BindOption)
}

// MountOp is one step of a mount plan
type MountOp struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Bind bool   `json:"bind" yaml:"bind"`
}

func (m MountOp) String() string {
	if m.Bind {
		return fmt.Sprintf("%s -> %s (bind)", m.From, m.To)
	}
	return fmt.Sprintf("%s -> %s", m.From, m.To)
}

// BootMode is the firmware style the guest boots with
type BootMode string

const (
	BootModeUEFI BootMode = voithos.BootModeUEFI
	BootModeBIOS BootMode = voithos.BootModeBIOS
)

// BootModeForLabel maps an fdisk disk label to the boot firmware style.
func BootModeForLabel(label string) BootMode {
	if label == voithos.DiskLabelGPT {
		return BootModeUEFI
	}
	return BootModeBIOS
}

// MountPoint is a live mount as seen in the host's mount namespace
type MountPoint struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	FSType string `json:"fstype" yaml:"fstype"`
}
