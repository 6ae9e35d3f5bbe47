package migrate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/inspector/inspectortest"
	"github.com/breqwatr/voithos/pkg/devicemanager/mounter"
	"github.com/breqwatr/voithos/pkg/devicemanager/mounter/mountertest"
	"github.com/breqwatr/voithos/utils/exec/exectest"

	. "github.com/onsi/gomega"
)

const (
	bootUUID = "4b1e8a1c-3c8e-4a8c-9d4c-1f2d0c6d3a11"
	rootUUID = "9d3c1b2a-1111-4222-8333-444455556666"

	rootLV = "/dev/mapper/centos-root"
	swapLV = "/dev/mapper/centos-swap"
)

const centosFstab = `#
# /etc/fstab
#
/dev/mapper/centos-root /                       xfs     defaults        0 0
UUID=` + bootUUID + ` /boot                   xfs     defaults        0 0
/dev/mapper/centos-swap swap                    swap    defaults        0 0
tmpfs                   /dev/shm                tmpfs   defaults        0 0
`

type recordingPrompter struct {
	answer bool
	asked  []string
}

func (r *recordingPrompter) Confirm(message string) (bool, error) {
	r.asked = append(r.asked, message)
	return r.answer, nil
}

// fixture is a CentOS guest on /dev/vda: /boot on vda1, root and swap LVs on vda2.
type fixture struct {
	base     string
	cfg      configuration.Config
	layout   *inspectortest.Layout
	exec     *exectest.FakeExecutor
	mounts   *mountertest.FakeMounter
	prompter *recordingPrompter
	devices  []string
	family   Family
}

func newFixture() *fixture {
	base, err := os.MkdirTemp("", "voithos-")
	Expect(err).NotTo(HaveOccurred())
	cfg, err := configuration.New(base)
	Expect(err).NotTo(HaveOccurred())
	cfg.Prompt = false

	f := &fixture{
		base: base,
		cfg:  cfg,
		layout: inspectortest.NewLayout().
			Disk("/dev/vda", "dos", "/dev/vda1", "/dev/vda2").
			PV("/dev/vda2", "/dev/centos/swap", "/dev/centos/root").
			BlockID("/dev/vda1", bootUUID, "xfs").
			BlockID("/dev/vda2", "Ys1V2c-aaaa", "LVM2_member").
			BlockID(swapLV, "0f5c3a2e-0000-4000-8000-000000000001", "swap").
			BlockID(rootLV, rootUUID, "xfs"),
		mounts:   mountertest.NewFakeMounter(),
		prompter: &recordingPrompter{},
		devices:  []string{"/dev/vda"},
		family:   RHEL{},
	}
	f.mounts.Volume(rootLV, map[string]string{
		"etc/fstab":      centosFstab,
		"etc/os-release": "NAME=\"CentOS Linux\"\n",
		"run/":           "",
	})
	f.mounts.Volume("/dev/vda1", map[string]string{
		"grub2/":                                    "",
		"initramfs-3.10.0-1160.el7.x86_64.img":      "",
		"initramfs-3.10.0-1160.el7.x86_64kdump.img": "",
		"initramfs-0-rescue-0b1c2d3e4f.img":         "",
		"vmlinuz-3.10.0-1160.el7.x86_64":            "",
	})
	return f
}

func (f *fixture) cleanup() {
	os.RemoveAll(f.base)
}

func (f *fixture) root(p ...string) string {
	return filepath.Join(append([]string{f.base, "root"}, p...)...)
}

func (f *fixture) worker(opts ...Option) *Worker {
	if f.exec == nil {
		f.exec = f.layout.Executor()
	}
	all := append([]Option{
		WithConfig(f.cfg),
		WithExecutor(f.exec),
		WithMounter(&mounter.Mounter{Interface: f.mounts, Prompter: f.prompter}),
		WithFamily(f.family),
		WithoutDeviceCheck(),
	}, opts...)
	w, err := NewWorker(f.devices, all...)
	Expect(err).NotTo(HaveOccurred())
	return w
}

func (f *fixture) chroot(cmd string) string {
	return fmt.Sprintf("chroot %s %s", f.root(), cmd)
}
