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
	"os"
	"path/filepath"
	"strings"

	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/exec"
	"github.com/breqwatr/voithos/utils/log"
)

// VirtioDrivers are the kernel modules a guest needs to boot on KVM.
var VirtioDrivers = []string{"virtio_blk", "virtio_net", "virtio_scsi", "virtio_balloon"}

// Family holds the steps that differ between guest distributions. Both run
// against a fully mounted chroot.
type Family interface {
	Name() string
	// Uninstall removes pattern, or with like every installed package whose
	// name contains it, and returns what was removed.
	Uninstall(c *Chroot, pattern string, like bool) ([]string, error)
	// AddVirtioDrivers makes the guest initramfs carry the virtio drivers and
	// returns what was changed.
	AddVirtioDrivers(c *Chroot) ([]string, error)
}

// FamilyByName returns the family for "rhel" or "ubuntu".
func FamilyByName(name string) (Family, error) {
	switch strings.ToLower(name) {
	case "rhel", "centos":
		return RHEL{}, nil
	case "ubuntu", "debian":
		return Ubuntu{}, nil
	}
	return nil, fmt.Errorf("unsupported guest family %q", name)
}

// Chroot runs commands inside the mounted guest root.
type Chroot struct {
	Root     string
	Executor exec.Executor
}

func (c *Chroot) Run(command string, arg ...string) (string, error) {
	args := append([]string{c.Root, command}, arg...)
	return c.Executor.ExecuteCommandWithCombinedOutput("chroot", args...)
}

// Path maps a guest path to the host path below the chroot root.
func (c *Chroot) Path(p string) string {
	return filepath.Join(c.Root, p)
}

func lines(out string) []string {
	resp := []string{}
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			resp = append(resp, l)
		}
	}
	return resp
}

func matching(names []string, pattern string) []string {
	resp := []string{}
	for _, n := range names {
		if strings.Contains(n, pattern) {
			resp = append(resp, n)
		}
	}
	return resp
}

// RHEL covers RedHat, CentOS and derivatives.
type RHEL struct{}

func (RHEL) Name() string { return "rhel" }

func (RHEL) Uninstall(c *Chroot, pattern string, like bool) ([]string, error) {
	pkgs := []string{pattern}
	if like {
		out, err := c.Run("rpm", "-qa")
		if err != nil {
			return nil, fmt.Errorf("failed to list installed packages: %w", err)
		}
		pkgs = matching(lines(out), pattern)
	}
	if len(pkgs) == 0 {
		log.Infof("No packages were found matching %q", pattern)
		return pkgs, nil
	}
	removed := []string{}
	for _, pkg := range pkgs {
		log.Infof("Uninstalling: %s", pkg)
		if _, err := c.Run("rpm", "-e", pkg); err != nil {
			return removed, fmt.Errorf("failed to uninstall %s: %w", pkg, err)
		}
		removed = append(removed, pkg)
	}
	return removed, nil
}

// initrdKernelVersion returns the kernel version of a regular
// initramfs-<kver>.img; rescue and kdump images are not rebuilt.
func initrdKernelVersion(name string) (string, bool) {
	if !strings.HasPrefix(name, "initramfs-") || !strings.HasSuffix(name, ".img") {
		return "", false
	}
	kver := strings.TrimSuffix(strings.TrimPrefix(name, "initramfs-"), ".img")
	if kver == "" || strings.HasSuffix(kver, "kdump") || strings.Contains(kver, "-rescue-") {
		return "", false
	}
	return kver, true
}

func hasVirtio(c *Chroot, initrd string) (bool, error) {
	out, err := c.Run("lsinitrd", initrd)
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", initrd, err)
	}
	return strings.Contains(strings.ToLower(out), "virtio"), nil
}

func (RHEL) AddVirtioDrivers(c *Chroot) ([]string, error) {
	entries, err := os.ReadDir(c.Path("/boot"))
	if err != nil {
		return nil, fmt.Errorf("failed to read /boot: %w", err)
	}
	initrds := map[string]string{}
	order := []string{}
	for _, e := range entries {
		if kver, ok := initrdKernelVersion(e.Name()); ok {
			initrds[kver] = filepath.Join("/boot", e.Name())
			order = append(order, kver)
		}
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("failed to detect initrd data in %s", c.Path("/boot"))
	}

	updated := []string{}
	for _, kver := range order {
		initrd := initrds[kver]
		present, err := hasVirtio(c, initrd)
		if err != nil {
			return updated, err
		}
		if present {
			log.Infof("VirtIO drivers are already installed in %s", initrd)
			continue
		}
		log.Infof("Injecting VirtIO drivers into %s for kernel %s", initrd, kver)
		if _, err := c.Run("dracut", "--add-drivers", strings.Join(VirtioDrivers, " "), "-f", initrd, kver); err != nil {
			return updated, fmt.Errorf("failed to rebuild %s: %w", initrd, err)
		}
		if present, err = hasVirtio(c, initrd); err != nil {
			return updated, err
		}
		if !present {
			return updated, fmt.Errorf("failed to install VirtIO drivers into %s", initrd)
		}
		updated = append(updated, initrd)
	}
	return updated, nil
}

// Ubuntu covers Ubuntu and Debian derivatives.
type Ubuntu struct{}

const initramfsModules = "/etc/initramfs-tools/modules"

func (Ubuntu) Name() string { return "ubuntu" }

func (Ubuntu) Uninstall(c *Chroot, pattern string, like bool) ([]string, error) {
	pkgs := []string{pattern}
	if like {
		out, err := c.Run("dpkg-query", "-W", "-f=${Package}\n")
		if err != nil {
			return nil, fmt.Errorf("failed to list installed packages: %w", err)
		}
		pkgs = matching(lines(out), pattern)
	}
	if len(pkgs) == 0 {
		log.Infof("No packages were found matching %q", pattern)
		return pkgs, nil
	}
	args := append([]string{"remove", "-y"}, pkgs...)
	log.Infof("Uninstalling: %s", strings.Join(pkgs, " "))
	if _, err := c.Run("apt-get", args...); err != nil {
		return nil, fmt.Errorf("failed to uninstall %s: %w", strings.Join(pkgs, " "), err)
	}
	return pkgs, nil
}

func (Ubuntu) AddVirtioDrivers(c *Chroot) ([]string, error) {
	path := c.Path(initramfsModules)
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	present := []string{}
	for _, l := range lines(string(content)) {
		if !strings.HasPrefix(l, "#") {
			present = append(present, strings.Fields(l)[0])
		}
	}
	added := utils.SliceSubSlice(VirtioDrivers, present)
	if len(added) > 0 {
		text := string(content)
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += strings.Join(added, "\n") + "\n"
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return nil, err
		}
		log.Infof("Added %s to %s", strings.Join(added, ", "), initramfsModules)
	}
	if _, err := c.Run("update-initramfs", "-u", "-k", "all"); err != nil {
		return added, fmt.Errorf("failed to update initramfs: %w", err)
	}
	return added, nil
}
