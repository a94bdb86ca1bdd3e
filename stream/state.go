// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package stream

// State is the lifecycle state of an iterator.
type State int

// Iterator states.
const (
	StateCreated State = iota
	StateConnecting
	StateStreaming
	// StatePaused indicates an item has been delivered and the iterator is
	// waiting for the consumer before reading further.
	StatePaused
	StateCompleted
	StateAborted
	StateErrored
)

var stateNames = [...]string{"created", "connecting", "streaming", "paused", "completed", "aborted", "errored"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateErrored
}
