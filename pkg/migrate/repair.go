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

package migrate

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/utils/exec"
	"github.com/breqwatr/voithos/utils/log"
)

// fsck exit codes below 4 mean the filesystem is usable
const fsckUncorrected = 4

// RepairResult is the outcome of checking one data volume.
type RepairResult struct {
	Volume   string `json:"volume" yaml:"volume"`
	FSType   string `json:"fstype" yaml:"fstype"`
	Repaired bool   `json:"repaired" yaml:"repaired"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
}

// RepairPartitions checks every data volume with its filesystem's repair
// tool: xfs_repair for xfs, fsck.<type> -y for ext*. Other filesystems are
// skipped. No data volume may be mounted.
func (w *Worker) RepairPartitions() ([]RepairResult, error) {
	cat, err := w.Catalog()
	if err != nil {
		return nil, err
	}
	mps, err := w.mounter.Interface.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}
	for _, vol := range cat.DataVolumes() {
		for _, mp := range mps {
			if mp.Device == vol {
				return nil, fmt.Errorf("%s is mounted at %s, unmount it before repairing", vol, mp.Path)
			}
		}
	}

	results := []RepairResult{}
	for _, vol := range cat.DataVolumes() {
		id, _ := cat.BlockID(vol)
		r := RepairResult{Volume: vol, FSType: id.Type}
		switch {
		case id.Type == voithos.XFSType:
			log.Infof("Repairing XFS volume %s", vol)
			out, err := w.executor.ExecuteCommandWithCombinedOutput("xfs_repair", vol)
			if err != nil {
				return results, fmt.Errorf("failed to repair %s: %w", vol, err)
			}
			r.Repaired, r.Output = true, out
		case strings.HasPrefix(id.Type, "ext"):
			log.Infof("Repairing %s volume %s", id.Type, vol)
			out, err := w.executor.ExecuteCommandWithCombinedOutput("fsck."+id.Type, "-y", vol)
			if err != nil {
				code, ok := exec.ExitStatus(err)
				if !ok || code >= fsckUncorrected {
					return results, fmt.Errorf("failed to repair %s: %w", vol, err)
				}
				log.Infof("fsck corrected errors on %s (exit %d)", vol, code)
			}
			r.Repaired, r.Output = true, out
		default:
			log.Infof("Cannot repair %s volume %s", id.Type, vol)
		}
		results = append(results, r)
	}
	return results, nil
}
