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
	"errors"
	"fmt"

	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils/exec"
	"github.com/breqwatr/voithos/utils/log"
)

// blkid exits with 2 when the path carries no recognizable superblock
const blkidNothingFound = 2

// DeviceInspector wraps the partition table, superblock and LVM queries.
type DeviceInspector interface {
	Partitions(device string) ([]string, error)
	FilesystemType(path string) (string, error)
	PhysicalVolumes() ([]string, error)
	LogicalVolumes(pv string) ([]types.LogicalVolume, error)
	DiskLabelType(device string) (string, error)
	BlockID(path string) (types.BlockID, error)
	BootMode(device string) (types.BootMode, error)
}

type Inspector struct {
	Executor exec.Executor
}

var _ DeviceInspector = &Inspector{}

func NewInspector(executor exec.Executor) *Inspector {
	return &Inspector{Executor: executor}
}

func (i *Inspector) fdisk(device string) (string, error) {
	out, err := i.Executor.ExecuteCommandWithOutput("fdisk", "-l", device)
	if err != nil {
		return "", fmt.Errorf("failed to read partition table of %s: %w", device, err)
	}
	return out, nil
}

func (i *Inspector) Partitions(device string) ([]string, error) {
	out, err := i.fdisk(device)
	if err != nil {
		return nil, err
	}
	partitions := parsePartitions(device, out)
	log.Debugf("partitions of %s: %v", device, partitions)
	return partitions, nil
}

func (i *Inspector) DiskLabelType(device string) (string, error) {
	out, err := i.fdisk(device)
	if err != nil {
		return "", err
	}
	label, ok := parseDiskLabel(out)
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownDiskLabel, device)
	}
	return label, nil
}

func (i *Inspector) BootMode(device string) (types.BootMode, error) {
	label, err := i.DiskLabelType(device)
	if err != nil {
		return "", err
	}
	mode := types.BootModeForLabel(label)
	log.Debugf("disk label of %s is %s, boot mode %s", device, label, mode)
	return mode, nil
}

func (i *Inspector) BlockID(path string) (types.BlockID, error) {
	out, err := i.Executor.ExecuteCommandWithOutput("blkid", "-c", "/dev/null", path)
	if err != nil {
		if code, ok := exec.ExitStatus(err); ok && code == blkidNothingFound {
			return types.BlockID{Path: path}, nil
		}
		return types.BlockID{}, fmt.Errorf("failed to read block id of %s: %w", path, err)
	}
	return parseBlkid(path, out), nil
}

func (i *Inspector) FilesystemType(path string) (string, error) {
	id, err := i.BlockID(path)
	if err != nil {
		return "", err
	}
	if id.Type == "" {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownFilesystem, path)
	}
	return id.Type, nil
}

func (i *Inspector) PhysicalVolumes() ([]string, error) {
	out, err := i.Executor.ExecuteCommandWithOutput("pvs", "--noheadings", "--separator=,", "--nameprefixes", "-o", "pv_name,vg_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list physical volumes: %w", err)
	}
	return parsePvs(out), nil
}

func (i *Inspector) LogicalVolumes(pv string) ([]types.LogicalVolume, error) {
	out, err := i.Executor.ExecuteCommandWithOutput("pvdisplay", "-m", pv)
	if err != nil {
		return nil, fmt.Errorf("failed to display physical volume %s: %w", pv, err)
	}
	return parsePvdisplay(pv, out), nil
}

// IsToolMissing reports whether err comes from an inspection tool that is not installed.
func IsToolMissing(err error) bool {
	var tie *types.ToolInvocationError
	return errors.As(err, &tie) && exec.IsNotFound(tie)
}
