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

package exec

import (
	"fmt"
	"strings"

	"github.com/breqwatr/voithos/utils/log"
	utilexec "k8s.io/utils/exec"
)

// Executor is the main interface for all the exec commands
type Executor interface {
	ExecuteCommand(command string, arg ...string) error
	ExecuteCommandWithOutput(command string, arg ...string) (string, error)
	ExecuteCommandWithCombinedOutput(command string, arg ...string) (string, error)
}

// CommandExecutor is the type of the Executor
type CommandExecutor struct {
	Exec utilexec.Interface
}

// NewCommandExecutor returns an executor backed by the host's os/exec.
func NewCommandExecutor() *CommandExecutor {
	return &CommandExecutor{Exec: utilexec.New()}
}

// ExecuteCommand starts a process and wait for its completion
func (c *CommandExecutor) ExecuteCommand(command string, arg ...string) error {
	_, err := c.ExecuteCommandWithCombinedOutput(command, arg...)
	return err
}

// ExecuteCommandWithOutput executes a command and returns stdout only
func (c *CommandExecutor) ExecuteCommandWithOutput(command string, arg ...string) (string, error) {
	logCommand(command, arg...)
	// #nosec G204 voithos controls the input to the exec arguments
	out, err := c.Exec.Command(command, arg...).Output()
	return c.result(command, arg, out, err)
}

// ExecuteCommandWithCombinedOutput executes a command with combined output
func (c *CommandExecutor) ExecuteCommandWithCombinedOutput(command string, arg ...string) (string, error) {
	logCommand(command, arg...)
	// #nosec G204 voithos controls the input to the exec arguments
	out, err := c.Exec.Command(command, arg...).CombinedOutput()
	return c.result(command, arg, out, err)
}

func (c *CommandExecutor) result(command string, arg []string, out []byte, err error) (string, error) {
	output := strings.TrimSpace(string(out))
	if output != "" {
		log.Debug(output)
	}
	if err != nil {
		return output, NewToolInvocationError(command, arg, output, err)
	}
	return output, nil
}

func logCommand(command string, arg ...string) {
	log.Debugf("Running command: %s %s", command, strings.Join(arg, " "))
}

// CommandLine renders a command and its arguments the way they are logged.
func CommandLine(command string, arg ...string) string {
	if len(arg) == 0 {
		return command
	}
	return fmt.Sprintf("%s %s", command, strings.Join(arg, " "))
}
