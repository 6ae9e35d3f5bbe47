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

package mounter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils/log"
	mount "k8s.io/mount-utils"
)

var errDeclined = errors.New("unmount declined by operator")

// Interface is the subset of mount.Interface the executor needs.
type Interface interface {
	MountSensitiveWithoutSystemd(source string, target string, fstype string, options []string, sensitiveOptions []string) error
	Unmount(target string) error
	List() ([]mount.MountPoint, error)
}

// Mounter performs mounts and unmounts fail-fast, without retries.
type Mounter struct {
	Interface Interface
	Prompter  Prompter
}

func New(prompter Prompter) *Mounter {
	return &Mounter{
		Interface: mount.New(""),
		Prompter:  prompter,
	}
}

// Mount mounts from onto to, creating to if needed.
func (m *Mounter) Mount(from, to string, bind bool) error {
	if err := os.MkdirAll(to, 0o755); err != nil {
		return &types.MountError{Op: "mount", Source: from, Target: to, Err: err}
	}
	var options []string
	if bind {
		options = []string{voithos.BindOption}
	}
	log.Debugf("mount %s %s bind=%t", from, to, bind)
	if err := m.Interface.MountSensitiveWithoutSystemd(from, to, "", options, nil); err != nil {
		return &types.MountError{Op: "mount", Source: from, Target: to, Err: err}
	}
	return nil
}

// Unmount unmounts to if it is mounted. With prompt set the operator must
// confirm first; a refusal is an error only when fail is set.
func (m *Mounter) Unmount(to string, prompt, fail bool) error {
	mounted, err := m.IsMounted(to)
	if err != nil {
		return err
	}
	if !mounted {
		return nil
	}

	if prompt {
		if m.Prompter == nil {
			return &types.MountError{Op: "unmount", Target: to, Err: errors.New("no prompter to confirm unmount")}
		}
		ok, err := m.Prompter.Confirm(fmt.Sprintf("WARNING: %s is currently mounted. Enter 'y' to unmount", to))
		if err != nil {
			return &types.MountError{Op: "unmount", Target: to, Err: err}
		}
		if !ok {
			if fail {
				return &types.MountError{Op: "unmount", Target: to, Err: errDeclined}
			}
			log.Infof("Leaving %s mounted", to)
			return nil
		}
	}

	log.Debugf("umount %s", to)
	if err := m.Interface.Unmount(to); err != nil {
		return &types.MountError{Op: "unmount", Target: to, Err: err}
	}
	return nil
}

// MountedDevice returns the source mounted at mountpoint, or "" when nothing is.
// Bind mounts report their underlying device.
func (m *Mounter) MountedDevice(mountpoint string) (string, error) {
	mps, err := m.Interface.List()
	if err != nil {
		return "", fmt.Errorf("failed to list mounts: %w", err)
	}
	targets := []string{filepath.Clean(mountpoint)}
	if real, err := filepath.EvalSymlinks(mountpoint); err == nil && real != targets[0] {
		targets = append(targets, real)
	}
	device := ""
	for _, mp := range mps {
		for _, t := range targets {
			// the last entry wins when mounts are stacked
			if mp.Path == t {
				device = mp.Device
			}
		}
	}
	return device, nil
}

// IsMounted reads the mount table rather than comparing device numbers so
// bind mounts from the same filesystem are seen.
func (m *Mounter) IsMounted(mountpoint string) (bool, error) {
	mps, err := m.Interface.List()
	if err != nil {
		return false, fmt.Errorf("failed to list mounts: %w", err)
	}
	clean := filepath.Clean(mountpoint)
	real, rerr := filepath.EvalSymlinks(mountpoint)
	for _, mp := range mps {
		if mp.Path == clean || (rerr == nil && mp.Path == real) {
			return true, nil
		}
	}
	return false, nil
}

// WithMount mounts from on to, runs fn and always unmounts again. A failed
// mount is returned without running fn; a failed release is returned when
// fn itself succeeded.
func (m *Mounter) WithMount(from, to string, fn func(mountpoint string) error) (err error) {
	if err := m.Mount(from, to, false); err != nil {
		return err
	}
	defer func() {
		if rerr := m.Unmount(to, false, true); rerr != nil {
			if err == nil {
				err = rerr
				return
			}
			log.Errorf("failed to release %s after error %v: %v", to, err, rerr)
		}
	}()
	return fn(to)
}
