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

// Package lazy holds values that are computed on first use.
package lazy

import "sync"

// Value caches the result of a successful computation. Failed computations
// are not cached so the next Get retries.
type Value[T any] struct {
	mu    sync.Mutex
	set   bool
	value T
}

func (v *Value[T]) Get(compute func() (T, error)) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.set {
		return v.value, nil
	}
	val, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	v.value = val
	v.set = true
	return val, nil
}
