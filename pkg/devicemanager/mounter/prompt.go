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

package mounter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter asks the operator to confirm a destructive step.
type Prompter interface {
	Confirm(message string) (bool, error)
}

// StdinPrompter reads a line answer; only "y" confirms.
type StdinPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{In: os.Stdin, Out: os.Stdout}
}

func (p *StdinPrompter) Confirm(message string) (bool, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	fmt.Fprintln(p.Out, message)
	answer, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.TrimSpace(answer) == "y", nil
}
