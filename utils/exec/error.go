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
	"errors"
	"fmt"

	utilexec "k8s.io/utils/exec"
)

// ToolInvocationError is returned when an external tool cannot be started
// or exits with a non-zero status.
type ToolInvocationError struct {
	Command  string
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func NewToolInvocationError(command string, args []string, output string, err error) *ToolInvocationError {
	code, ok := ExitStatus(err)
	if !ok {
		code = -1
	}
	return &ToolInvocationError{
		Command:  command,
		Args:     args,
		Output:   output,
		ExitCode: code,
		Err:      err,
	}
}

func (e *ToolInvocationError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s failed (exit %d): %v", CommandLine(e.Command, e.Args...), e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed (exit %d): %v: %s", CommandLine(e.Command, e.Args...), e.ExitCode, e.Err, e.Output)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// ExitStatus extracts the process exit code from err, looking through
// ToolInvocationError wrappers.
func ExitStatus(err error) (int, bool) {
	var tie *ToolInvocationError
	if errors.As(err, &tie) && tie.ExitCode >= 0 {
		return tie.ExitCode, true
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), true
	}
	return 0, false
}

// IsNotFound reports whether err means the executable is not installed.
func IsNotFound(err error) bool {
	return errors.Is(err, utilexec.ErrExecutableNotFound)
}
