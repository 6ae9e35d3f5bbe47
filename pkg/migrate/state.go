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

// State is how far a worker has progressed. It only moves forward, except
// that Mounted and Unmounted may alternate.
type State int

const (
	Unidentified State = iota
	RootIdentified
	FstabParsed
	PlanComputed
	Mounted
	Unmounted
)

func (s State) String() string {
	switch s {
	case Unidentified:
		return "Unidentified"
	case RootIdentified:
		return "RootIdentified"
	case FstabParsed:
		return "FstabParsed"
	case PlanComputed:
		return "PlanComputed"
	case Mounted:
		return "Mounted"
	case Unmounted:
		return "Unmounted"
	}
	return "Unknown"
}

func (s State) mountCycle() bool {
	return s == Mounted || s == Unmounted
}

// next returns the state after reaching to from s.
func (s State) next(to State) State {
	if to > s || (s.mountCycle() && to.mountCycle()) {
		return to
	}
	return s
}
