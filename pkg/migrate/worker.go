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
	"errors"
	"fmt"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/catalog"
	"github.com/breqwatr/voithos/pkg/devicemanager/fstab"
	"github.com/breqwatr/voithos/pkg/devicemanager/inspector"
	"github.com/breqwatr/voithos/pkg/devicemanager/mounter"
	"github.com/breqwatr/voithos/pkg/devicemanager/planner"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/exec"
	"github.com/breqwatr/voithos/utils/lazy"
	"github.com/breqwatr/voithos/utils/log"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	bootMountpoint = "/boot"
	// scratch mountpoint for checking volumes while root stays mounted
	scanMountpoint = "/.scan"
)

// Worker operates on the guest filesystem held by a set of block devices.
// Everything it discovers is cached for its lifetime; build a new worker to
// query again.
type Worker struct {
	devices   []string
	cfg       configuration.Config
	executor  exec.Executor
	inspector inspector.DeviceInspector
	mounter   *mounter.Mounter
	family    Family
	state     State

	catalog    lazy.Value[*catalog.Catalog]
	rootVolume lazy.Value[string]
	fstab      lazy.Value[[]types.FstabEntry]
	hasRunDir  lazy.Value[bool]
	bootMode   lazy.Value[types.BootMode]
	plan       lazy.Value[[]types.MountOp]
}

func NewWorker(devices []string, opts ...Option) (*Worker, error) {
	o := Options{
		Config:       configuration.Default(),
		Family:       RHEL{},
		CheckDevices: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Executor == nil {
		o.Executor = exec.NewCommandExecutor()
	}
	if o.Inspector == nil {
		o.Inspector = inspector.NewInspector(o.Executor)
	}
	if o.Mounter == nil {
		o.Mounter = mounter.New(mounter.NewStdinPrompter())
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, errors.New("at least one device is required")
	}
	if o.CheckDevices {
		for _, d := range devices {
			ok, err := utils.IsBlockDevice(d)
			if err != nil || !ok {
				return nil, fmt.Errorf("%w: %s", types.ErrNotBlockDevice, d)
			}
		}
	}

	log.Debugf("Initiating %s worker with devices: %v", o.Family.Name(), devices)
	return &Worker{
		devices:   append([]string{}, devices...),
		cfg:       o.Config,
		executor:  o.Executor,
		inspector: o.Inspector,
		mounter:   o.Mounter,
		family:    o.Family,
	}, nil
}

func (w *Worker) Devices() []string {
	return append([]string{}, w.devices...)
}

func (w *Worker) Config() configuration.Config {
	return w.cfg
}

func (w *Worker) State() State {
	return w.state
}

func (w *Worker) advance(s State) {
	w.state = w.state.next(s)
}

// Catalog returns the volume catalog of the worker's devices.
func (w *Worker) Catalog() (*catalog.Catalog, error) {
	return w.catalog.Get(func() (*catalog.Catalog, error) {
		return catalog.Build(w.inspector, w.devices)
	})
}

// RootVolume returns the single data volume holding etc/fstab. A root mount
// left in place by an earlier run is reused when it qualifies.
func (w *Worker) RootVolume() (string, error) {
	return w.rootVolume.Get(func() (string, error) {
		cat, err := w.Catalog()
		if err != nil {
			return "", err
		}
		rootMount := w.cfg.RootMount()

		device, err := w.mounter.MountedDevice(rootMount)
		if err != nil {
			return "", err
		}
		if device != "" {
			if utils.ContainsString(cat.DataVolumes(), device) && fstab.HasFstab(rootMount) {
				if err := w.checkSoleRoot(cat, device); err != nil {
					return "", err
				}
				log.Debugf("root volume %s is already mounted at %s", device, rootMount)
				w.advance(RootIdentified)
				return device, nil
			}
			if err := w.mounter.Unmount(rootMount, w.cfg.Prompt, true); err != nil {
				return "", err
			}
		}

		root, err := fstab.FindRootVolume(w.mounter, cat.DataVolumes(), rootMount, w.devices)
		if err != nil {
			return "", err
		}
		w.advance(RootIdentified)
		return root, nil
	})
}

// checkSoleRoot fails when a data volume other than the mounted root also
// holds etc/fstab. The others are mounted in turn at a scratch mountpoint so
// the mounted root stays in place.
func (w *Worker) checkSoleRoot(cat *catalog.Catalog, mounted string) error {
	others, err := fstab.FindRootCandidates(w.mounter, utils.SliceRemoveString(cat.DataVolumes(), mounted), w.cfg.ScratchMount(scanMountpoint))
	if err != nil {
		return err
	}
	if len(others) == 0 {
		return nil
	}
	found := sets.NewString(append(others, mounted)...)
	candidates := []string{}
	for _, vol := range cat.DataVolumes() {
		if found.Has(vol) {
			candidates = append(candidates, vol)
		}
	}
	return &types.RootVolumeError{Devices: w.Devices(), Candidates: candidates, Err: types.ErrAmbiguousRootVolume}
}

// IsRootMounted reports whether anything is mounted at the chroot root.
func (w *Worker) IsRootMounted() (bool, error) {
	return w.mounter.IsMounted(w.cfg.RootMount())
}

// mountRoot mounts the root volume unless it already is, and reports
// whether it did.
func (w *Worker) mountRoot() (bool, error) {
	root, err := w.RootVolume()
	if err != nil {
		return false, err
	}
	mounted, err := w.IsRootMounted()
	if err != nil || mounted {
		return false, err
	}
	log.Debugf("Mounting root volume %s to %s", root, w.cfg.RootMount())
	if err := w.mounter.Mount(root, w.cfg.RootMount(), false); err != nil {
		return false, err
	}
	return true, nil
}

// unmountRoot never fails; teardown has to go on.
func (w *Worker) unmountRoot() {
	if err := w.mounter.Unmount(w.cfg.RootMount(), false, false); err != nil {
		log.Errorf("failed to unmount root: %v", err)
	}
}

// withRoot runs fn with the root volume mounted, unmounting it afterwards
// only if it was not mounted before.
func (w *Worker) withRoot(fn func() error) error {
	mounted, err := w.mountRoot()
	if err != nil {
		return err
	}
	if mounted {
		defer w.unmountRoot()
	}
	return fn()
}

// Fstab returns the root volume's fstab with UUIDs resolved.
func (w *Worker) Fstab() ([]types.FstabEntry, error) {
	return w.fstab.Get(func() ([]types.FstabEntry, error) {
		cat, err := w.Catalog()
		if err != nil {
			return nil, err
		}
		log.Debug("START: parsing /etc/fstab from root volume")
		var entries []types.FstabEntry
		err = w.withRoot(func() error {
			var err error
			entries, err = fstab.ReadFile(w.cfg.RootMount(), cat)
			return err
		})
		if err != nil {
			return nil, err
		}
		log.Debugf("DONE: parsing /etc/fstab from root volume, %d entries", len(entries))
		w.advance(FstabParsed)
		return entries, nil
	})
}

// HasRunDir reports whether /run gets bind-mounted into the chroot.
func (w *Worker) HasRunDir() (bool, error) {
	switch w.cfg.RunDir {
	case configuration.RunDirAlways:
		return true, nil
	case configuration.RunDirNever:
		return false, nil
	}
	return w.hasRunDir.Get(func() (bool, error) {
		var has bool
		err := w.withRoot(func() error {
			has = utils.DirExists(w.cfg.ChrootPath(voithos.RunDir))
			return nil
		})
		log.Debugf("guest has /run: %t", has)
		return has, err
	})
}

func (w *Worker) bootEntry() (*types.FstabEntry, error) {
	entries, err := w.Fstab()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Mountpoint == bootMountpoint {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// BootPartitionIsOnRootVolume is true when fstab has no /boot entry.
func (w *Worker) BootPartitionIsOnRootVolume() (bool, error) {
	e, err := w.bootEntry()
	if err != nil {
		return false, err
	}
	return e == nil, nil
}

// BootVolume returns the volume mounted at /boot.
func (w *Worker) BootVolume() (string, error) {
	e, err := w.bootEntry()
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", types.ErrNoBootVolume
	}
	return e.Path, nil
}

// BootMode reports UEFI or BIOS from the disk label of the disk holding /boot.
func (w *Worker) BootMode() (types.BootMode, error) {
	return w.bootMode.Get(func() (types.BootMode, error) {
		log.Debug("START: determining boot mode")
		vol, err := w.BootVolume()
		if errors.Is(err, types.ErrNoBootVolume) {
			vol, err = w.RootVolume()
		}
		if err != nil {
			return "", err
		}
		cat, err := w.Catalog()
		if err != nil {
			return "", err
		}
		disk, err := cat.ParentDevice(vol)
		if err != nil {
			return "", err
		}
		mode, err := w.inspector.BootMode(disk)
		if err != nil {
			return "", err
		}
		log.Debugf("DONE: determining boot mode of %s (%s)", disk, mode)
		return mode, nil
	})
}

// MountPlan returns the ordered mount operations that rebuild the guest
// hierarchy under the chroot root.
func (w *Worker) MountPlan() ([]types.MountOp, error) {
	return w.plan.Get(func() ([]types.MountOp, error) {
		entries, err := w.Fstab()
		if err != nil {
			return nil, err
		}
		hasRun, err := w.HasRunDir()
		if err != nil {
			return nil, err
		}
		ops := planner.Plan(w.cfg, entries, hasRun)
		w.advance(PlanComputed)
		return ops, nil
	})
}

// ReverseMountPlan is the teardown order, MountPlan reversed.
func (w *Worker) ReverseMountPlan() ([]types.MountOp, error) {
	ops, err := w.MountPlan()
	if err != nil {
		return nil, err
	}
	return planner.Reverse(ops), nil
}

// MountVolumes unmounts whatever the plan would touch, then mounts root and
// every planned volume. On failure the mounts made so far are rolled back.
func (w *Worker) MountVolumes() error {
	log.Debug("START: mounting all volumes")
	ops, err := w.MountPlan()
	if err != nil {
		return err
	}
	root, err := w.RootVolume()
	if err != nil {
		return err
	}

	log.Debug("Unmount all volumes before mounting to ensure clean env")
	if err := w.unmountAll(planner.Reverse(ops), w.cfg.Prompt); err != nil {
		return err
	}

	done := []types.MountOp{}
	rootMount := w.cfg.RootMount()
	mounted, err := w.IsRootMounted()
	if err != nil {
		return err
	}
	if !mounted {
		log.Infof("mount %s %s", root, rootMount)
		if err := w.mounter.Mount(root, rootMount, false); err != nil {
			return err
		}
		done = append(done, types.MountOp{From: root, To: rootMount})
	}

	for _, op := range ops {
		if op.To == rootMount {
			continue
		}
		log.Infof("mount %s", op)
		if err := w.mounter.Mount(op.From, op.To, op.Bind); err != nil {
			w.rollback(done)
			return err
		}
		done = append(done, op)
	}
	w.advance(Mounted)
	log.Debug("DONE: mounting all volumes")
	return nil
}

func (w *Worker) rollback(done []types.MountOp) {
	for _, op := range planner.Reverse(done) {
		if err := w.mounter.Unmount(op.To, false, false); err != nil {
			log.Errorf("rollback: %v", err)
		}
	}
}

func (w *Worker) unmountAll(reverse []types.MountOp, prompt bool) error {
	for _, op := range reverse {
		log.Debugf("Unmount: %s", op.To)
		if err := w.mounter.Unmount(op.To, prompt, prompt); err != nil {
			return err
		}
	}
	return nil
}

// UnmountVolumes tears the chroot down in reverse plan order. Without force
// the operator confirms each mounted target when prompting is configured.
func (w *Worker) UnmountVolumes(force bool) error {
	log.Debug("START: unmounting all volumes")
	rev, err := w.ReverseMountPlan()
	if err != nil {
		return err
	}
	prompt := w.cfg.Prompt && !force
	if err := w.unmountAll(rev, prompt); err != nil {
		return err
	}
	if err := w.mounter.Unmount(w.cfg.RootMount(), prompt, prompt); err != nil {
		return err
	}
	w.advance(Unmounted)
	log.Debug("DONE: unmounting all volumes")
	return nil
}

// withVolumes runs fn in the fully mounted chroot and always tears it down.
func (w *Worker) withVolumes(fn func(c *Chroot) error) (err error) {
	if err := w.MountVolumes(); err != nil {
		return err
	}
	defer func() {
		if uerr := w.UnmountVolumes(true); uerr != nil {
			if err == nil {
				err = uerr
				return
			}
			log.Errorf("failed to unmount volumes after error %v: %v", err, uerr)
		}
	}()
	return fn(&Chroot{Root: w.cfg.RootMount(), Executor: w.executor})
}

// Uninstall removes guest packages matching pattern inside the chroot.
func (w *Worker) Uninstall(pattern string, like bool) ([]string, error) {
	var removed []string
	err := w.withVolumes(func(c *Chroot) error {
		var err error
		removed, err = w.family.Uninstall(c, pattern, like)
		return err
	})
	return removed, err
}

// AddVirtioDrivers makes the guest boot with virtio disks and NICs.
func (w *Worker) AddVirtioDrivers() ([]string, error) {
	log.Debug("START: add virtio drivers")
	var changed []string
	err := w.withVolumes(func(c *Chroot) error {
		var err error
		changed, err = w.family.AddVirtioDrivers(c)
		return err
	})
	log.Debug("DONE: add virtio drivers")
	return changed, err
}

// SetInterface pins a network interface name to its MAC address in the guest
// root. Only the root volume is mounted for it.
func (w *Worker) SetInterface(n NetInterface) ([]string, error) {
	configurer, ok := w.family.(InterfaceConfigurer)
	if !ok {
		return nil, fmt.Errorf("setting interfaces is not supported for %s guests", w.family.Name())
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	var written []string
	err := w.withRoot(func() error {
		var err error
		written, err = configurer.SetInterface(&Chroot{Root: w.cfg.RootMount(), Executor: w.executor}, n)
		return err
	})
	return written, err
}
