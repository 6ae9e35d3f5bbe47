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

// Package exectest provides a scripted Executor for unit tests.
package exectest

import (
	"sync"

	"github.com/breqwatr/voithos/utils/exec"
	utilexec "k8s.io/utils/exec"
	testingexec "k8s.io/utils/exec/testing"
)

// Response is the canned result of one command line.
type Response struct {
	Output   string
	ExitCode int
	Err      error
}

// FakeExecutor answers commands from a table keyed by the full command line
// and records every invocation.
type FakeExecutor struct {
	mu        sync.Mutex
	responses map[string][]Response
	Calls     []string
}

var _ exec.Executor = &FakeExecutor{}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{responses: map[string][]Response{}}
}

// On registers stdout for a successful invocation of the command line.
func (f *FakeExecutor) On(cmdline string, output string) *FakeExecutor {
	return f.OnResponse(cmdline, Response{Output: output})
}

// OnExit registers a failing invocation with the given exit code.
func (f *FakeExecutor) OnExit(cmdline string, output string, code int) *FakeExecutor {
	return f.OnResponse(cmdline, Response{Output: output, ExitCode: code})
}

func (f *FakeExecutor) OnResponse(cmdline string, r Response) *FakeExecutor {
	return f.OnSequence(cmdline, r)
}

// OnSequence answers successive invocations of the command line with rs in
// order; the last response repeats once the others are used up.
func (f *FakeExecutor) OnSequence(cmdline string, rs ...Response) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmdline] = rs
	return f
}

// Called reports whether the command line was executed at least once.
func (f *FakeExecutor) Called(cmdline string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if c == cmdline {
			return true
		}
	}
	return false
}

func (f *FakeExecutor) ExecuteCommand(command string, arg ...string) error {
	_, err := f.ExecuteCommandWithCombinedOutput(command, arg...)
	return err
}

func (f *FakeExecutor) ExecuteCommandWithOutput(command string, arg ...string) (string, error) {
	return f.run(command, arg...)
}

func (f *FakeExecutor) ExecuteCommandWithCombinedOutput(command string, arg ...string) (string, error) {
	return f.run(command, arg...)
}

func (f *FakeExecutor) run(command string, arg ...string) (string, error) {
	line := exec.CommandLine(command, arg...)

	f.mu.Lock()
	f.Calls = append(f.Calls, line)
	rs, ok := f.responses[line]
	var r Response
	if ok && len(rs) > 0 {
		r = rs[0]
		if len(rs) > 1 {
			f.responses[line] = rs[1:]
		}
	}
	f.mu.Unlock()

	if !ok {
		return "", exec.NewToolInvocationError(command, arg, "", utilexec.ErrExecutableNotFound)
	}
	if r.Err != nil {
		return r.Output, exec.NewToolInvocationError(command, arg, r.Output, r.Err)
	}
	if r.ExitCode != 0 {
		return r.Output, exec.NewToolInvocationError(command, arg, r.Output, testingexec.FakeExitError{Status: r.ExitCode})
	}
	return r.Output, nil
}
