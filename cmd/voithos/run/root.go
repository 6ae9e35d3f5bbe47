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
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/inspector"
	"github.com/breqwatr/voithos/pkg/devicemanager/types"
	"github.com/breqwatr/voithos/utils/log"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var config struct {
	file  string
	debug bool
	cfg   configuration.Config
}

var rootCmd = &cobra.Command{
	Use:     "voithos",
	Version: voithos.Version,
	Short:   "Voithos migration tooling",
	Long: `voithos prepares the disks of a virtual machine imported from another
hypervisor: it finds the guest root filesystem, rebuilds the guest mount
hierarchy in a chroot and adapts the guest to boot on KVM.`,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if config.debug {
			log.SetDebug(true)
		}
		cfg, err := configuration.Load(config.file, cmd.Flags())
		if err != nil {
			return err
		}
		config.cfg = cfg
		log.Debugf("configuration: %+v", cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	_ = log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func init() {
	d := configuration.Default()
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&config.file, "config", "", "Configuration file (default "+voithos.DefaultConfigPath+"config.yaml)")
	fs.BoolVar(&config.debug, "debug", false, "Enable debug logging")
	fs.String("mount-base", d.MountBase, "Directory holding the chroot root and scratch mountpoints")
	fs.String("run-dir", d.RunDir, "Bind-mount /run into the chroot: auto, always or never")
	fs.Bool("prompt", d.Prompt, "Ask before unmounting volumes that are in use")

	goflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goflags)
	fs.AddGoFlagSet(goflags)

	rootCmd.AddCommand(migrateCmd, statusCmd, versionCmd)
}

// describe turns the error taxonomy into a message an operator can act on.
func describe(err error) string {
	var rve *types.RootVolumeError
	switch {
	case inspector.IsToolMissing(err):
		return fmt.Sprintf("ERROR: a required system tool is not installed: %v", err)
	case errors.As(err, &rve) && errors.Is(err, types.ErrAmbiguousRootVolume):
		return fmt.Sprintf("ERROR: more than one root volume found on %v: %v", rve.Devices, rve.Candidates)
	case errors.As(err, &rve):
		return fmt.Sprintf("ERROR: no volume on %v holds /etc/fstab", rve.Devices)
	}
	return fmt.Sprintf("ERROR: %v", err)
}
