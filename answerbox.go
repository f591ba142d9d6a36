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

import (
	"time"

	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"
)

// Answerbox is a task-owned endpoint on which incoming calls, answers and
// IRQ notifications queue, per spec.md section 3. wait_for_call drains it in
// priority order: irq_notifs, then answers, then calls.
type Answerbox struct {
	Owner *Task

	callsLock SpinLock
	calls     []*Call

	answersLock SpinLock
	answers     []*Call

	irqLock   SpinLock
	irqNotifs []*Call

	wq WaitQueue

	phonesLock      SpinLock
	connectedPhones []*Phone
}

func newAnswerbox(owner *Task) *Answerbox {
	return &Answerbox{Owner: owner}
}

// enqueueCall appends c to box's incoming-calls list and wakes one waiter.
func (box *Answerbox) enqueueCall(c *Call) {
	box.callsLock.Lock()
	box.calls = append(box.calls, c)
	box.callsLock.Unlock()
	box.wq.WakeOne()
}

// enqueueAnswer appends c (already flagged CallAnswered) to box's incoming-
// answers list and wakes one waiter.
func (box *Answerbox) enqueueAnswer(c *Call) {
	box.answersLock.Lock()
	box.answers = append(box.answers, c)
	box.answersLock.Unlock()
	box.wq.WakeOne()
}

// enqueueNotif appends c (already flagged CallNotif) to box's IRQ
// notification list and wakes one waiter. Unlike enqueueCall/enqueueAnswer,
// this is called from IRQ top-half context, so it must not itself block;
// WakeOne never does (spec.md section 4.B).
func (box *Answerbox) enqueueNotif(c *Call) {
	box.irqLock.Lock()
	box.irqNotifs = append(box.irqNotifs, c)
	box.irqLock.Unlock()
	box.wq.WakeOne()
}

// popAny removes and returns the next call this box has queued, preferring
// irq_notifs, then answers, then calls, per spec.md section 4.E step 4. It
// returns nil if all three are empty.
func (box *Answerbox) popAny() *Call {
	box.irqLock.Lock()
	if n := len(box.irqNotifs); n > 0 {
		c := box.irqNotifs[0]
		box.irqNotifs = box.irqNotifs[1:]
		box.irqLock.Unlock()
		return c
	}
	box.irqLock.Unlock()

	box.answersLock.Lock()
	if n := len(box.answers); n > 0 {
		c := box.answers[0]
		box.answers = box.answers[1:]
		box.answersLock.Unlock()
		return c
	}
	box.answersLock.Unlock()

	box.callsLock.Lock()
	if n := len(box.calls); n > 0 {
		c := box.calls[0]
		box.calls = box.calls[1:]
		box.callsLock.Unlock()
		return c
	}
	box.callsLock.Unlock()

	return nil
}

func (box *Answerbox) hasPending() bool {
	box.irqLock.Lock()
	n := len(box.irqNotifs)
	box.irqLock.Unlock()
	if n > 0 {
		return true
	}
	box.answersLock.Lock()
	n = len(box.answers)
	box.answersLock.Unlock()
	if n > 0 {
		return true
	}
	box.callsLock.Lock()
	n = len(box.calls)
	box.callsLock.Unlock()
	return n > 0
}

func (box *Answerbox) addConnectedPhone(p *Phone) {
	box.phonesLock.Lock()
	box.connectedPhones = append(box.connectedPhones, p)
	box.phonesLock.Unlock()
}

func (box *Answerbox) removeConnectedPhone(p *Phone) {
	box.phonesLock.Lock()
	defer box.phonesLock.Unlock()
	for i, x := range box.connectedPhones {
		if x == p {
			box.connectedPhones = append(box.connectedPhones[:i], box.connectedPhones[i+1:]...)
			return
		}
	}
}

// WaitForCall blocks the calling thread until box has a call, answer or
// notification to deliver, a timeout elapses, or (if nonblocking) returns
// immediately. It implements spec.md section 4.F's ipc_wait_for_call.
func (box *Answerbox) WaitForCall(ctx context.Context, clk timeutil.Clock, t *Thread, timeout time.Duration, nonblocking bool) *Call {
	if c := box.popAny(); c != nil {
		return c
	}
	if nonblocking {
		return nil
	}

	for {
		res := box.wq.Sleep(ctx, clk, t, timeout, SleepInterruptible)
		if c := box.popAny(); c != nil {
			return c
		}
		if res == SleepTimeout || res == SleepInterrupted {
			return nil
		}
		// Spurious wake with nothing queued (e.g. another waiter beat us
		// to the one call that arrived): loop and sleep again.
	}
}
