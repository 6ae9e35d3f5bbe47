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
	"github.com/breqwatr/voithos/pkg/configuration"
	"github.com/breqwatr/voithos/pkg/devicemanager/inspector"
	"github.com/breqwatr/voithos/pkg/devicemanager/mounter"
	"github.com/breqwatr/voithos/utils/exec"
)

// Options configure a Worker.
type Options struct {
	Config       configuration.Config
	Executor     exec.Executor
	Inspector    inspector.DeviceInspector
	Mounter      *mounter.Mounter
	Family       Family
	CheckDevices bool
}

// Option is a functional option for NewWorker.
type Option func(*Options)

// WithConfig sets the mount locations and prompt policy.
func WithConfig(cfg configuration.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithExecutor runs inspection and chroot commands through e. The default
// inspector is built on it.
func WithExecutor(e exec.Executor) Option {
	return func(o *Options) {
		o.Executor = e
	}
}

// WithInspector replaces the tool-backed device inspector.
func WithInspector(i inspector.DeviceInspector) Option {
	return func(o *Options) {
		o.Inspector = i
	}
}

// WithMounter replaces the host mounter.
func WithMounter(m *mounter.Mounter) Option {
	return func(o *Options) {
		o.Mounter = m
	}
}

// WithFamily selects the guest OS family.
func WithFamily(f Family) Option {
	return func(o *Options) {
		o.Family = f
	}
}

// WithoutDeviceCheck skips the block device check on the input devices.
func WithoutDeviceCheck() Option {
	return func(o *Options) {
		o.CheckDevices = false
	}
}
