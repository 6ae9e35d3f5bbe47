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
	"fmt"
	"text/tabwriter"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/pkg/mounttable"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List what is mounted under the mount base",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		mps, err := mounttable.Under(config.cfg.MountBase)
		if err != nil {
			return err
		}
		if len(mps) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Nothing is mounted under %s\n", config.cfg.MountBase)
			return nil
		}
		root, err := mounttable.Source(config.cfg.RootMount())
		if err != nil {
			return err
		}
		if root != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Guest root %s is mounted at %s\n", root, config.cfg.RootMount())
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "SOURCE\tTARGET\tTYPE")
		for _, mp := range mps {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", mp.Source, mp.Target, mp.FSType)
		}
		return tw.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "voithos %s\n", voithos.Version)
	},
}
