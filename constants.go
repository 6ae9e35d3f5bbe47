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

package voithos

const (
	// Version project
	Version = "0.9.0"

	// DefaultMountBase is the directory every scratch mountpoint lives under.
	DefaultMountBase = "/convert"
	// RootDirName is the directory below the mount base holding the guest root filesystem.
	RootDirName = "root"
	// DefaultConfigPath is searched for config.yaml when no --config flag is given.
	DefaultConfigPath = "/etc/voithos/"

	// FstabPath is the location of the static mount table inside the guest.
	FstabPath = "/etc/fstab"
	// RunDir is only bind-mounted into the chroot when the guest has it. RHEL 6 may not.
	RunDir = "/run"

	// BootModeUEFI and BootModeBIOS are the values reported by get-boot-mode.
	BootModeUEFI = "UEFI"
	BootModeBIOS = "BIOS"
	// DiskLabelGPT is the fdisk disk label implying UEFI boot.
	DiskLabelGPT = "gpt"

	// filesystem TYPE values reported by blkid
	SwapType = "swap"
	XFSType  = "xfs"

	// DeviceMapperDir is where LVM logical volumes are exposed
	DeviceMapperDir = "/dev/mapper"

	// BindOption marks an fstab entry, or a mount, as a bind mount
	BindOption = "bind"
)

// SystemBindMounts are the host paths bind-mounted into every chroot.
var SystemBindMounts = []string{"/sys", "/proc", "/dev"}
