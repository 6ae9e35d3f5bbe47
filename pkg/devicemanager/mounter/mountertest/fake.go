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

// Package mountertest fakes the mount namespace on top of the mount-utils
// fake mounter. Mounting a known source populates the target directory with
// that volume's files, as does bind-mounting the mountpoint of one;
// unmounting empties the target again.
package mountertest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/utils"
	mount "k8s.io/mount-utils"
)

// FakeMounter records mounts like mount.FakeMounter and simulates volume content.
type FakeMounter struct {
	*mount.FakeMounter

	mu sync.Mutex
	// Contents maps a source device to the files it carries, path -> content.
	// A path ending in "/" is created as a directory.
	Contents map[string]map[string]string
	// MountErrors fail mounts of the given source.
	MountErrors map[string]error
	// UnmountErrors fail unmounts of the given target.
	UnmountErrors map[string]error
	// populated tracks targets filled from Contents
	populated map[string]bool
}

func NewFakeMounter() *FakeMounter {
	return &FakeMounter{
		FakeMounter:   mount.NewFakeMounter(nil),
		Contents:      map[string]map[string]string{},
		MountErrors:   map[string]error{},
		UnmountErrors: map[string]error{},
		populated:     map[string]bool{},
	}
}

// Volume declares the files visible on a device once mounted.
func (f *FakeMounter) Volume(source string, files map[string]string) *FakeMounter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Contents[source] = files
	return f
}

func (f *FakeMounter) MountSensitiveWithoutSystemd(source string, target string, fstype string, options []string, sensitiveOptions []string) error {
	f.mu.Lock()
	err := f.MountErrors[source]
	files, hasFiles := f.Contents[source]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.FakeMounter.MountSensitiveWithoutSystemd(source, target, fstype, options, sensitiveOptions); err != nil {
		return err
	}
	if utils.ContainsString(options, voithos.BindOption) {
		// binding a whole mount shows the device's files at the target too
		mps, _ := f.List()
		device := mps[len(mps)-1].Device
		if device == source {
			return nil
		}
		f.mu.Lock()
		files, hasFiles = f.Contents[device]
		f.mu.Unlock()
	}
	if !hasFiles {
		return nil
	}
	for name, content := range files {
		p := filepath.Join(target, name)
		if name[len(name)-1] == '/' {
			if err := os.MkdirAll(p, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.populated[filepath.Clean(target)] = true
	f.mu.Unlock()
	return nil
}

func (f *FakeMounter) Unmount(target string) error {
	f.mu.Lock()
	err := f.UnmountErrors[target]
	populated := f.populated[filepath.Clean(target)]
	delete(f.populated, filepath.Clean(target))
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.FakeMounter.Unmount(target); err != nil {
		return err
	}
	if !populated {
		return nil
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Errorf("failed to empty %s: %w", target, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(target, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Mounted returns the targets currently mounted, in mount order.
func (f *FakeMounter) Mounted() []string {
	mps, _ := f.List()
	resp := make([]string, 0, len(mps))
	for _, mp := range mps {
		resp = append(resp, mp.Path)
	}
	return resp
}

// Actions returns the mount and unmount log as "mount <target>" / "unmount <target>".
func (f *FakeMounter) Actions() []string {
	resp := []string{}
	for _, a := range f.GetLog() {
		resp = append(resp, fmt.Sprintf("%s %s", a.Action, a.Target))
	}
	return resp
}

