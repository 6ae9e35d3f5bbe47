package migrate

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils/exec/exectest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Worker", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	AfterEach(func() {
		f.cleanup()
	})

	expectedPlan := func() []types.MountOp {
		return []types.MountOp{
			{From: rootLV, To: f.root()},
			{From: "/dev/vda1", To: filepath.Join(f.base, "boot")},
			{From: filepath.Join(f.base, "boot"), To: f.root("boot"), Bind: true},
			{From: "/sys", To: f.root("sys"), Bind: true},
			{From: "/proc", To: f.root("proc"), Bind: true},
			{From: "/dev", To: f.root("dev"), Bind: true},
			{From: "/run", To: f.root("run"), Bind: true},
		}
	}

	Context("construction", func() {
		It("requires devices", func() {
			_, err := NewWorker(nil, WithoutDeviceCheck())
			Expect(err).To(HaveOccurred())
		})

		It("rejects paths that are not block devices", func() {
			file := filepath.Join(f.base, "disk.img")
			Expect(os.WriteFile(file, nil, 0o644)).To(Succeed())

			_, err := NewWorker([]string{file}, WithConfig(f.cfg))
			Expect(errors.Is(err, types.ErrNotBlockDevice)).To(BeTrue())

			_, err = NewWorker([]string{filepath.Join(f.base, "missing")}, WithConfig(f.cfg))
			Expect(errors.Is(err, types.ErrNotBlockDevice)).To(BeTrue())
		})

		It("rejects an invalid config", func() {
			cfg := f.cfg
			cfg.MountBase = "relative"
			_, err := NewWorker(f.devices, WithConfig(cfg), WithoutDeviceCheck())
			Expect(err).To(HaveOccurred())
		})

		It("starts unidentified", func() {
			Expect(f.worker().State()).To(Equal(Unidentified))
		})
	})

	Context("root volume", func() {
		It("finds the single volume holding etc/fstab", func() {
			w := f.worker()
			cat, err := w.Catalog()
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.DataVolumes()).To(Equal([]string{"/dev/vda1", rootLV}))

			root, err := w.RootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(root).To(Equal(rootLV))
			Expect(w.State()).To(Equal(RootIdentified))
			Expect(f.mounts.Mounted()).To(BeEmpty())
			Expect(f.mounts.Actions()).To(Equal([]string{
				"mount " + f.root(), "unmount " + f.root(),
				"mount " + f.root(), "unmount " + f.root(),
			}))
		})

		It("caches the answer", func() {
			w := f.worker()
			_, err := w.RootVolume()
			Expect(err).NotTo(HaveOccurred())
			f.mounts.ResetLog()

			root, err := w.RootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(root).To(Equal(rootLV))
			Expect(f.mounts.Actions()).To(BeEmpty())
		})

		It("treats a volume that fails to mount as not root", func() {
			f.mounts.MountErrors["/dev/vda1"] = errors.New("wrong fs type")
			root, err := f.worker().RootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(root).To(Equal(rootLV))
		})

		It("reuses a root volume that is already mounted", func() {
			Expect(f.mounts.MountSensitiveWithoutSystemd(rootLV, f.root(), "", nil, nil)).To(Succeed())
			f.mounts.ResetLog()

			root, err := f.worker().RootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(root).To(Equal(rootLV))
			Expect(f.mounts.Mounted()).To(Equal([]string{f.root()}))
			scan := filepath.Join(f.base, ".scan")
			Expect(f.mounts.Actions()).To(Equal([]string{"mount " + scan, "unmount " + scan}))
		})

		It("fails when another volume holds etc/fstab besides the mounted root", func() {
			f.devices = []string{"/dev/vda", "/dev/vdb"}
			f.layout.Disk("/dev/vdb", "dos", "/dev/vdb1").BlockID("/dev/vdb1", "5b7a0c1d-2222-4333-8444-555566667777", "ext4")
			f.mounts.Volume("/dev/vdb1", map[string]string{"etc/fstab": "/dev/vdb1 / ext4 defaults 0 1\n"})
			Expect(f.mounts.MountSensitiveWithoutSystemd(rootLV, f.root(), "", nil, nil)).To(Succeed())

			_, err := f.worker().RootVolume()
			Expect(errors.Is(err, types.ErrAmbiguousRootVolume)).To(BeTrue())

			var rve *types.RootVolumeError
			Expect(errors.As(err, &rve)).To(BeTrue())
			Expect(rve.Devices).To(Equal([]string{"/dev/vda", "/dev/vdb"}))
			Expect(rve.Candidates).To(Equal([]string{"/dev/vdb1", rootLV}))
			Expect(f.mounts.Mounted()).To(Equal([]string{f.root()}))
		})

		It("fails when no volume holds etc/fstab", func() {
			delete(f.mounts.Contents, rootLV)
			_, err := f.worker().RootVolume()
			Expect(errors.Is(err, types.ErrRootVolumeNotFound)).To(BeTrue())

			var rve *types.RootVolumeError
			Expect(errors.As(err, &rve)).To(BeTrue())
			Expect(rve.Devices).To(Equal([]string{"/dev/vda"}))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("fails when two volumes hold etc/fstab", func() {
			f.devices = []string{"/dev/vda", "/dev/vdb"}
			f.layout.Disk("/dev/vdb", "dos", "/dev/vdb1").BlockID("/dev/vdb1", "5b7a0c1d-2222-4333-8444-555566667777", "ext4")
			f.mounts.Volume("/dev/vdb1", map[string]string{"etc/fstab": "/dev/vdb1 / ext4 defaults 0 1\n"})

			_, err := f.worker().RootVolume()
			Expect(errors.Is(err, types.ErrAmbiguousRootVolume)).To(BeTrue())

			var rve *types.RootVolumeError
			Expect(errors.As(err, &rve)).To(BeTrue())
			Expect(rve.Candidates).To(Equal([]string{"/dev/vdb1", rootLV}))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("does not cache a failure", func() {
			delete(f.mounts.Contents, rootLV)
			w := f.worker()
			_, err := w.RootVolume()
			Expect(err).To(HaveOccurred())

			f.mounts.Volume(rootLV, map[string]string{"etc/fstab": centosFstab})
			root, err := w.RootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(root).To(Equal(rootLV))
		})
	})

	Context("fstab", func() {
		It("resolves UUIDs and leaves root unmounted", func() {
			w := f.worker()
			entries, err := w.Fstab()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(Equal([]types.FstabEntry{
				{Path: rootLV, Mountpoint: "/", FSType: "xfs", Options: "defaults"},
				{Path: "/dev/vda1", Mountpoint: "/boot", FSType: "xfs", Options: "defaults"},
				{Path: swapLV, Mountpoint: "swap", FSType: "swap", Options: "defaults"},
			}))
			Expect(w.State()).To(Equal(FstabParsed))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("fails on a UUID no volume carries", func() {
			f.mounts.Volume(rootLV, map[string]string{
				"etc/fstab": "UUID=00000000-0000-0000-0000-000000000000 / xfs defaults 0 0\n",
			})
			_, err := f.worker().Fstab()
			Expect(errors.Is(err, types.ErrUnresolvedUUID)).To(BeTrue())
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})
	})

	Context("boot", func() {
		It("locates the boot volume and BIOS mode", func() {
			w := f.worker()
			onRoot, err := w.BootPartitionIsOnRootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(onRoot).To(BeFalse())

			boot, err := w.BootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(boot).To(Equal("/dev/vda1"))

			mode, err := w.BootMode()
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(types.BootModeBIOS))
		})

		It("reports UEFI for a gpt disk", func() {
			f.layout = f.layout.Disk("/dev/vda", "gpt", "/dev/vda1", "/dev/vda2")
			mode, err := f.worker().BootMode()
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(types.BootModeUEFI))
		})

		It("uses the root volume's disk when /boot is on root", func() {
			f.mounts.Volume(rootLV, map[string]string{"etc/fstab": "/dev/mapper/centos-root / xfs defaults 0 0\n"})
			w := f.worker()

			onRoot, err := w.BootPartitionIsOnRootVolume()
			Expect(err).NotTo(HaveOccurred())
			Expect(onRoot).To(BeTrue())

			_, err = w.BootVolume()
			Expect(errors.Is(err, types.ErrNoBootVolume)).To(BeTrue())

			mode, err := w.BootMode()
			Expect(err).NotTo(HaveOccurred())
			Expect(mode).To(Equal(types.BootModeBIOS))
			Expect(f.exec.Called("fdisk -l /dev/vda")).To(BeTrue())
		})

		It("fails when the disk label is unknown", func() {
			f.layout = f.layout.Disk("/dev/vda", "", "/dev/vda1", "/dev/vda2")
			_, err := f.worker().BootMode()
			Expect(errors.Is(err, types.ErrUnknownDiskLabel)).To(BeTrue())
		})
	})

	Context("mount plan", func() {
		It("rebuilds the guest hierarchy with system binds", func() {
			w := f.worker()
			ops, err := w.MountPlan()
			Expect(err).NotTo(HaveOccurred())
			Expect(ops).To(Equal(expectedPlan()))
			Expect(w.State()).To(Equal(PlanComputed))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("reverses exactly", func() {
			w := f.worker()
			ops, err := w.MountPlan()
			Expect(err).NotTo(HaveOccurred())
			rev, err := w.ReverseMountPlan()
			Expect(err).NotTo(HaveOccurred())
			Expect(rev).To(HaveLen(len(ops)))
			for i := range ops {
				Expect(rev[i]).To(Equal(ops[len(ops)-1-i]))
			}
		})

		It("skips /run when the guest has none", func() {
			f.mounts.Volume(rootLV, map[string]string{"etc/fstab": centosFstab})
			w := f.worker()
			has, err := w.HasRunDir()
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeFalse())

			ops, err := w.MountPlan()
			Expect(err).NotTo(HaveOccurred())
			Expect(ops).To(Equal(expectedPlan()[:6]))
		})

		It("follows the runDir setting", func() {
			f.cfg.RunDir = configuration.RunDirNever
			ops, err := f.worker().MountPlan()
			Expect(err).NotTo(HaveOccurred())
			Expect(ops).To(Equal(expectedPlan()[:6]))

			f.mounts.Volume(rootLV, map[string]string{"etc/fstab": centosFstab})
			f.cfg.RunDir = configuration.RunDirAlways
			ops, err = f.worker().MountPlan()
			Expect(err).NotTo(HaveOccurred())
			Expect(ops).To(Equal(expectedPlan()))
		})
	})

	Context("mounting", func() {
		It("mounts every planned volume", func() {
			w := f.worker()
			Expect(w.MountVolumes()).To(Succeed())
			Expect(w.State()).To(Equal(Mounted))

			targets := []string{}
			for _, op := range expectedPlan() {
				targets = append(targets, op.To)
			}
			Expect(f.mounts.Mounted()).To(Equal(targets))
			Expect(f.root("etc", "fstab")).To(BeARegularFile())
			Expect(f.root("boot", "grub2")).To(BeADirectory())
		})

		It("unmounts in reverse and is idempotent", func() {
			w := f.worker()
			Expect(w.MountVolumes()).To(Succeed())

			Expect(w.UnmountVolumes(false)).To(Succeed())
			Expect(w.State()).To(Equal(Unmounted))
			Expect(f.mounts.Mounted()).To(BeEmpty())
			Expect(f.root("etc", "fstab")).NotTo(BeAnExistingFile())

			f.mounts.ResetLog()
			Expect(w.UnmountVolumes(false)).To(Succeed())
			Expect(f.mounts.Actions()).To(BeEmpty())
		})

		It("cycles between mounted and unmounted", func() {
			w := f.worker()
			Expect(w.MountVolumes()).To(Succeed())
			Expect(w.UnmountVolumes(true)).To(Succeed())
			Expect(w.MountVolumes()).To(Succeed())
			Expect(w.State()).To(Equal(Mounted))
			Expect(f.mounts.Mounted()).To(HaveLen(len(expectedPlan())))
		})

		It("starts from a clean state when already mounted", func() {
			w := f.worker()
			Expect(w.MountVolumes()).To(Succeed())
			Expect(f.worker().MountVolumes()).To(Succeed())
			Expect(f.mounts.Mounted()).To(HaveLen(len(expectedPlan())))
		})

		It("stops when the operator declines to unmount", func() {
			Expect(f.worker().MountVolumes()).To(Succeed())

			f.cfg.Prompt = true
			f.prompter.answer = false
			err := f.worker().MountVolumes()
			Expect(errors.Is(err, types.ErrFailedMount)).To(BeTrue())
			Expect(f.prompter.asked).To(HaveLen(1))
			Expect(f.mounts.Mounted()).To(HaveLen(len(expectedPlan())))
		})

		It("asks before unmounting when prompting is on", func() {
			Expect(f.worker().MountVolumes()).To(Succeed())

			f.cfg.Prompt = true
			f.prompter.answer = true
			w := f.worker()
			Expect(w.UnmountVolumes(false)).To(Succeed())
			Expect(f.prompter.asked).To(HaveLen(len(expectedPlan())))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("does not ask when forced", func() {
			Expect(f.worker().MountVolumes()).To(Succeed())

			f.cfg.Prompt = true
			Expect(f.worker().UnmountVolumes(true)).To(Succeed())
			Expect(f.prompter.asked).To(BeEmpty())
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("rolls back when a mount fails", func() {
			w := f.worker()
			_, err := w.MountPlan()
			Expect(err).NotTo(HaveOccurred())

			f.mounts.MountErrors["/proc"] = errors.New("permission denied")
			err = w.MountVolumes()
			Expect(errors.Is(err, types.ErrFailedMount)).To(BeTrue())
			Expect(f.mounts.Mounted()).To(BeEmpty())
			Expect(w.State()).To(Equal(PlanComputed))
		})
	})

	Context("repair", func() {
		It("repairs every supported data volume", func() {
			f.layout.BlockID(rootLV, rootUUID, "ext4")
			f.exec = f.layout.Executor().
				On("xfs_repair /dev/vda1", "Phase 1 - find and verify superblock...").
				OnExit("fsck.ext4 -y "+rootLV, "e2fsck: FILE SYSTEM WAS MODIFIED", 1)

			results, err := f.worker().RepairPartitions()
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Volume).To(Equal("/dev/vda1"))
			Expect(results[0].Repaired).To(BeTrue())
			Expect(results[1].FSType).To(Equal("ext4"))
			Expect(results[1].Repaired).To(BeTrue())
		})

		It("skips filesystems it cannot repair", func() {
			f.layout.BlockID("/dev/vda1", "1A2B-3C4D", "vfat")
			f.exec = f.layout.Executor().On("xfs_repair "+rootLV, "done")

			results, err := f.worker().RepairPartitions()
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0]).To(Equal(RepairResult{Volume: "/dev/vda1", FSType: "vfat"}))
			Expect(results[1].Repaired).To(BeTrue())
		})

		It("fails on uncorrected errors", func() {
			f.layout.BlockID(rootLV, rootUUID, "ext4")
			f.exec = f.layout.Executor().
				On("xfs_repair /dev/vda1", "").
				OnExit("fsck.ext4 -y "+rootLV, "UNEXPECTED INCONSISTENCY", 4)

			_, err := f.worker().RepairPartitions()
			Expect(err).To(HaveOccurred())
		})

		It("refuses while volumes are mounted", func() {
			w := f.worker()
			Expect(w.MountVolumes()).To(Succeed())
			_, err := w.RepairPartitions()
			Expect(err).To(HaveOccurred())
			Expect(f.exec.Called("xfs_repair /dev/vda1")).To(BeFalse())
		})
	})

	Context("rhel guest", func() {
		It("uninstalls matching packages and unmounts", func() {
			f.exec = f.layout.Executor().
				On(f.chroot("rpm -qa"), "bash-4.2.46-34.el7.x86_64\nopen-vm-tools-11.0.5-3.el7.x86_64\nopen-vm-tools-desktop-11.0.5-3.el7.x86_64\n").
				On(f.chroot("rpm -e open-vm-tools-11.0.5-3.el7.x86_64"), "").
				On(f.chroot("rpm -e open-vm-tools-desktop-11.0.5-3.el7.x86_64"), "")

			removed, err := f.worker().Uninstall("vm-tools", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal([]string{
				"open-vm-tools-11.0.5-3.el7.x86_64",
				"open-vm-tools-desktop-11.0.5-3.el7.x86_64",
			}))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("unmounts even when uninstall fails", func() {
			f.exec = f.layout.Executor().OnExit(f.chroot("rpm -e cloud-init"), "error: package cloud-init is not installed", 1)

			_, err := f.worker().Uninstall("cloud-init", false)
			var tie *types.ToolInvocationError
			Expect(errors.As(err, &tie)).To(BeTrue())
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("adds virtio drivers to regular initramfs images", func() {
			initrd := "/boot/initramfs-3.10.0-1160.el7.x86_64.img"
			f.exec = f.layout.Executor().
				OnSequence(f.chroot("lsinitrd "+initrd),
					exectest.Response{Output: "usr/lib/modules/3.10.0-1160.el7.x86_64/kernel/drivers/ata"},
					exectest.Response{Output: "usr/lib/modules/3.10.0-1160.el7.x86_64/kernel/drivers/block/virtio_blk.ko.xz"}).
				On(f.chroot("dracut --add-drivers virtio_blk virtio_net virtio_scsi virtio_balloon -f "+initrd+" 3.10.0-1160.el7.x86_64"), "")

			changed, err := f.worker().AddVirtioDrivers()
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(Equal([]string{initrd}))
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})

		It("leaves images that already carry virtio", func() {
			initrd := "/boot/initramfs-3.10.0-1160.el7.x86_64.img"
			f.exec = f.layout.Executor().On(f.chroot("lsinitrd "+initrd), "kernel/drivers/virtio/virtio.ko.xz")

			changed, err := f.worker().AddVirtioDrivers()
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeEmpty())
		})

		It("fails when dracut did not add the drivers", func() {
			initrd := "/boot/initramfs-3.10.0-1160.el7.x86_64.img"
			f.exec = f.layout.Executor().
				On(f.chroot("lsinitrd "+initrd), "kernel/drivers/ata").
				On(f.chroot("dracut --add-drivers virtio_blk virtio_net virtio_scsi virtio_balloon -f "+initrd+" 3.10.0-1160.el7.x86_64"), "")

			_, err := f.worker().AddVirtioDrivers()
			Expect(err).To(HaveOccurred())
			Expect(f.mounts.Mounted()).To(BeEmpty())
		})
	})

	Context("network interface", func() {
		eth0 := NetInterface{
			Name:    "eth0",
			MAC:     "52:54:00:AB:CD:EF",
			IP:      "10.0.0.15",
			Prefix:  24,
			Gateway: "10.0.0.1",
			DNS:     []string{"10.0.0.2", "10.0.0.3"},
			Domain:  "example.org",
		}
		rulesPath := func() string {
			return f.root("etc", "udev", "rules.d", "70-persistent-net.rules")
		}
		premountRoot := func(rules string) {
			files := map[string]string{"etc/fstab": centosFstab, "run/": ""}
			if rules != "" {
				files["etc/udev/rules.d/70-persistent-net.rules"] = rules
			}
			f.mounts.Volume(rootLV, files)
			Expect(f.mounts.MountSensitiveWithoutSystemd(rootLV, f.root(), "", nil, nil)).To(Succeed())
		}

		It("writes the ifcfg file and appends a udev rule", func() {
			premountRoot(`SUBSYSTEM=="net", ACTION=="add", DRIVERS=="?*", ATTR{address}=="52:54:00:00:00:01", NAME="eth1"`)

			written, err := f.worker().SetInterface(eth0)
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(Equal([]string{
				"/etc/sysconfig/network-scripts/ifcfg-eth0",
				"/etc/udev/rules.d/70-persistent-net.rules",
			}))

			ifcfg, err := os.ReadFile(f.root("etc", "sysconfig", "network-scripts", "ifcfg-eth0"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(ifcfg)).To(Equal("DEVICE=eth0\nBOOTPROTO=static\nONBOOT=yes\nUSERCTL=no\nHWADDR=52:54:00:ab:cd:ef\n" +
				"IPADDR=10.0.0.15\nPREFIX=24\nDEFROUTE=yes\nGATEWAY=10.0.0.1\nDNS1=10.0.0.2\nDNS2=10.0.0.3\nDOMAIN=example.org\n"))

			rules, err := os.ReadFile(rulesPath())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(rules)).To(Equal(`SUBSYSTEM=="net", ACTION=="add", DRIVERS=="?*", ATTR{address}=="52:54:00:00:00:01", NAME="eth1"` + "\n" +
				`SUBSYSTEM=="net", ACTION=="add", DRIVERS=="?*", ATTR{address}=="52:54:00:ab:cd:ef", NAME="eth0"` + "\n"))
			Expect(f.mounts.Mounted()).To(Equal([]string{f.root()}))
		})

		It("refuses when the rules already name the interface", func() {
			premountRoot(`SUBSYSTEM=="net", ATTR{address}=="52:54:00:00:00:01", NAME="eth0"` + "\n")

			_, err := f.worker().SetInterface(eth0)
			Expect(errors.Is(err, ErrInterfaceRuleExists)).To(BeTrue())
			Expect(f.root("etc", "sysconfig", "network-scripts", "ifcfg-eth0")).NotTo(BeAnExistingFile())
		})

		It("mounts only the root volume and releases it", func() {
			dhcp := NetInterface{Name: "eth0", MAC: "52:54:00:ab:cd:ef", DHCP: true}
			written, err := f.worker().SetInterface(dhcp)
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(HaveLen(2))
			Expect(f.mounts.Mounted()).To(BeEmpty())
			Expect(f.mounts.Actions()).NotTo(ContainElement("mount " + filepath.Join(f.base, "boot")))
		})

		It("rejects an invalid interface before mounting anything", func() {
			bad := eth0
			bad.Prefix = 33
			_, err := f.worker().SetInterface(bad)
			Expect(err).To(HaveOccurred())
			Expect(f.mounts.Actions()).To(BeEmpty())
		})

		It("is not available for ubuntu guests", func() {
			f.family = Ubuntu{}
			_, err := f.worker().SetInterface(eth0)
			Expect(err).To(HaveOccurred())
			Expect(f.mounts.Actions()).To(BeEmpty())
		})
	})

	Context("ubuntu guest", func() {
		BeforeEach(func() {
			f.family = Ubuntu{}
			f.mounts.Volume(rootLV, map[string]string{
				"etc/fstab":                   centosFstab,
				"etc/initramfs-tools/modules": "# List of modules\nvirtio_net\n",
				"run/":                        "",
			})
		})

		It("uninstalls matching packages with apt", func() {
			f.exec = f.layout.Executor().
				On(f.chroot("dpkg-query -W -f=${Package}\n"), "bash\ncloud-init\ncloud-initramfs-copymods\n").
				On(f.chroot("apt-get remove -y cloud-init cloud-initramfs-copymods"), "")

			removed, err := f.worker().Uninstall("cloud-init", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal([]string{"cloud-init", "cloud-initramfs-copymods"}))
		})

		It("reports nothing to remove", func() {
			f.exec = f.layout.Executor().On(f.chroot("dpkg-query -W -f=${Package}\n"), "bash\n")

			removed, err := f.worker().Uninstall("vm-tools", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeEmpty())
		})

		It("adds missing virtio modules and rebuilds the initramfs", func() {
			f.exec = f.layout.Executor().On(f.chroot("update-initramfs -u -k all"), "update-initramfs: Generating /boot/initrd.img-5.4.0-42-generic")

			added, err := f.worker().AddVirtioDrivers()
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(Equal([]string{"virtio_blk", "virtio_scsi", "virtio_balloon"}))
			Expect(f.exec.Called(f.chroot("update-initramfs -u -k all"))).To(BeTrue())
		})
	})
})
