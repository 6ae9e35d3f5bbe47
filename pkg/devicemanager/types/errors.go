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
	"errors"
	"fmt"
	"strings"

	"github.com/breqwatr/voithos/utils/exec"
)

// ToolInvocationError is returned when a device inspection tool is missing or fails.
type ToolInvocationError = exec.ToolInvocationError

var (
	ErrUnknownFilesystem   = errors.New("unknown filesystem")
	ErrUnresolvedUUID      = errors.New("unresolved UUID")
	ErrRootVolumeNotFound  = errors.New("root volume not found")
	ErrAmbiguousRootVolume = errors.New("ambiguous root volume")
	ErrFailedMount         = errors.New("failed mount")
	ErrUnknownDiskLabel    = errors.New("unknown disk label")
	ErrNoBootVolume        = errors.New("boot partition is on the root volume")
	ErrNotBlockDevice      = errors.New("not a block device")
)

// MountError describes a failed mount or unmount. It matches ErrFailedMount.
type MountError struct {
	Op     string
	Source string
	Target string
	Err    error
}

func (e *MountError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("failed to %s %s on %s: %v", e.Op, e.Source, e.Target, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

func (e *MountError) Is(target error) bool {
	return target == ErrFailedMount
}

// RootVolumeError reports the devices examined when zero or several
// volumes look like the guest root.
type RootVolumeError struct {
	Devices    []string
	Candidates []string
	Err        error
}

func (e *RootVolumeError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("%v on devices [%s]", e.Err, strings.Join(e.Devices, ", "))
	}
	return fmt.Sprintf("%v on devices [%s]: candidates [%s]", e.Err,
		strings.Join(e.Devices, ", "), strings.Join(e.Candidates, ", "))
}

func (e *RootVolumeError) Unwrap() error {
	return e.Err
}
