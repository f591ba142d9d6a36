// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

// PhoneState is one of the states from spec.md section 3's Phone.
type PhoneState int

const (
	PhoneFree PhoneState = iota
	PhoneConnecting
	PhoneConnected
	PhoneHungup
)

func (s PhoneState) String() string {
	switch s {
	case PhoneFree:
		return "Free"
	case PhoneConnecting:
		return "Connecting"
	case PhoneConnected:
		return "Connected"
	case PhoneHungup:
		return "Hungup"
	default:
		return "Unknown"
	}
}

// Phone is a directional connection handle owned by a task, per spec.md
// section 3. Operations flow call -> callee answerbox -> reply -> caller
// answerbox.
type Phone struct {
	lock SpinLock

	owner *Task
	// Index is this phone's slot number in owner's phone table, the value
	// userspace uses to name it.
	Index int

	state PhoneState

	// callee is the answerbox this phone is connected to, valid only while
	// state == PhoneConnected.
	callee *Answerbox
}

func newPhone(owner *Task, index int) *Phone {
	p := &Phone{owner: owner, Index: index, state: PhoneFree}
	return p
}

// State returns the phone's current state.
func (p *Phone) State() PhoneState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// connect links p to box, moving it from Connecting to Connected and adding
// p to box's connected_phones list. Must only be called on a phone in the
// Connecting state.
func (p *Phone) connect(box *Answerbox) {
	p.lock.Lock()
	p.state = PhoneConnected
	p.callee = box
	p.lock.Unlock()

	box.addConnectedPhone(p)
}

// ConnectForTest connects p to box, exported for the same reason as
// Task.AllocPhoneForTest.
func (p *Phone) ConnectForTest(box *Answerbox) {
	p.connect(box)
}

// hangup transitions p to Hungup and detaches it from its callee's
// connected_phones list, per spec.md section 4.E. Safe to call more than
// once; later calls report wasConnected == false.
func (p *Phone) hangup() (callee *Answerbox, wasConnected bool) {
	p.lock.Lock()
	wasConnected = p.state == PhoneConnected
	callee = p.callee
	p.state = PhoneHungup
	p.callee = nil
	p.lock.Unlock()

	if wasConnected {
		callee.removeConnectedPhone(p)
	}
	return callee, wasConnected
}

// reset returns p to the Free state so its slot can be reused, detaching it
// from any callee first.
func (p *Phone) reset() {
	p.hangup()
	p.lock.Lock()
	p.state = PhoneFree
	p.lock.Unlock()
}
