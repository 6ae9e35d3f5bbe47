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

package run

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/breqwatr/voithos/pkg/migrate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Prepare the disks of an imported guest",
}

// uninstallTargets maps the uninstall choices to the package name matched
// against the installed packages.
var uninstallTargets = map[string]string{
	"vmware-tools": "vm-tools",
	"cloud-init":   "cloud-init",
}

func init() {
	migrateCmd.AddCommand(familyCmd("rhel", "RedHat, CentOS and derivatives"))
	migrateCmd.AddCommand(familyCmd("ubuntu", "Ubuntu and Debian derivatives"))
}

func familyCmd(name, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
	}
	newWorker := func(devices []string) (*migrate.Worker, error) {
		family, err := migrate.FamilyByName(name)
		if err != nil {
			return nil, err
		}
		return migrate.NewWorker(devices, migrate.WithConfig(config.cfg), migrate.WithFamily(family))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get-boot-mode DEVICE...",
		Short: "Print UEFI or BIOS",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			mode, err := w.BootMode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		},
	})

	var reverse bool
	var output string
	planCmd := &cobra.Command{
		Use:   "mount-plan DEVICE...",
		Short: "Print the ordered mount operations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			plan := w.MountPlan
			if reverse {
				plan = w.ReverseMountPlan
			}
			ops, err := plan()
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), output, ops, func(out io.Writer) {
				for _, op := range ops {
					fmt.Fprintln(out, op)
				}
			})
		},
	}
	planCmd.Flags().BoolVar(&reverse, "reverse", false, "Print the teardown order")
	planCmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	cmd.AddCommand(planCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "mount DEVICE...",
		Short: "Mount the guest hierarchy under the chroot root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			if err := w.MountVolumes(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mounted guest root at %s\n", config.cfg.RootMount())
			return nil
		},
	})

	var force bool
	unmountCmd := &cobra.Command{
		Use:   "unmount DEVICE...",
		Short: "Unmount the guest hierarchy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			return w.UnmountVolumes(force)
		},
	}
	unmountCmd.Flags().BoolVar(&force, "force", false, "Do not ask before unmounting")
	cmd.AddCommand(unmountCmd)

	var repairOutput string
	repairCmd := &cobra.Command{
		Use:   "repair-partitions DEVICE...",
		Short: "Check and repair the filesystem of every data volume",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			results, err := w.RepairPartitions()
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), repairOutput, results, func(out io.Writer) {
				for _, r := range results {
					status := "repaired"
					if !r.Repaired {
						status = "skipped"
					}
					fmt.Fprintf(out, "%s %s %s\n", r.Volume, r.FSType, status)
				}
			})
		},
	}
	repairCmd.Flags().StringVarP(&repairOutput, "output", "o", "text", "Output format: text, json or yaml")
	cmd.AddCommand(repairCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "add-virtio-drivers DEVICE...",
		Short: "Make the guest initramfs carry the virtio drivers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			changed, err := w.AddVirtioDrivers()
			if err != nil {
				return err
			}
			if len(changed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "VirtIO drivers already present")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated: %s\n", strings.Join(changed, ", "))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "uninstall {vmware-tools|cloud-init} DEVICE...",
		Short:     "Remove hypervisor guest packages",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"vmware-tools", "cloud-init"},
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, ok := uninstallTargets[args[0]]
			if !ok {
				return fmt.Errorf("unknown uninstall target %q, expected vmware-tools or cloud-init", args[0])
			}
			cmd.SilenceUsage = true
			w, err := newWorker(args[1:])
			if err != nil {
				return err
			}
			removed, err := w.Uninstall(pattern, true)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No packages matching %s installed\n", pattern)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", strings.Join(removed, ", "))
			return nil
		},
	})
	if name == "rhel" {
		cmd.AddCommand(setInterfaceCmd(newWorker))
	}
	return cmd
}

func setInterfaceCmd(newWorker func([]string) (*migrate.Worker, error)) *cobra.Command {
	var n migrate.NetInterface
	cmd := &cobra.Command{
		Use:   "set-interface DEVICE...",
		Short: "Pin a network interface name to its MAC address in the guest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := n.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			w, err := newWorker(args)
			if err != nil {
				return err
			}
			written, err := w.SetInterface(n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s\n", strings.Join(written, ", "))
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&n.Name, "name", "", "Interface name, e.g. eth0")
	fs.StringVar(&n.MAC, "mac", "", "MAC address of the interface")
	fs.BoolVar(&n.DHCP, "dhcp", false, "Configure the interface with DHCP")
	fs.StringVar(&n.IP, "ip", "", "Static IP address")
	fs.IntVar(&n.Prefix, "prefix", 0, "Static network prefix length")
	fs.StringVar(&n.Gateway, "gateway", "", "Default gateway")
	fs.StringSliceVar(&n.DNS, "dns", nil, "DNS servers, comma separated")
	fs.StringVar(&n.Domain, "domain", "", "DNS search domain")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("mac")
	return cmd
}

// printResult writes v as json or yaml, or calls text for the plain format.
func printResult(out io.Writer, format string, v interface{}, text func(io.Writer)) error {
	switch format {
	case "", "text":
		text(out)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", format)
}
