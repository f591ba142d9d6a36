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
	"fmt"
	"time"

	"github.com/helenos-go/corekernel/internal/callid"
	"github.com/helenos-go/corekernel/sysmethod"
	"github.com/jacobsa/reqtrace"
	"golang.org/x/net/context"
)

// callSpanLabel names the reqtrace span a call opens, mirroring fuseops'
// describeOpType: one label per distinct method, system methods by name and
// everything else by number.
func callSpanLabel(method uint64) string {
	m := sysmethod.Method(method)
	if sysmethod.IsSystem(m) {
		return m.String()
	}
	return fmt.Sprintf("ipc.Call(method=%d)", method)
}

// reportCallOutcome closes out c's reqtrace span exactly once, with the
// same retval translation processAnswer applies: a forwarded call whose
// callee hung up reports EFORWARD rather than EHANGUP, so a span traced
// across a forward chain shows the error the original caller actually
// observed. Safe to call on a call with no open span (report nil), and
// idempotent for a call already closed out once.
func reportCallOutcome(c *Call) {
	if c.report == nil {
		return
	}
	report := c.report
	c.report = nil
	if int(c.Retval) == int(EHANGUP) && c.Flags.has(CallForwarded) {
		report(EFORWARD)
		return
	}
	if c.Retval == 0 {
		report(nil)
		return
	}
	report(Errno(c.Retval))
}

// CallSyncFast sends a call with the given method and single scalar
// argument across phone, blocking the calling thread until it is answered,
// and returns the reply payload. Spec.md section 4.F's ipc_call_sync_fast.
func CallSyncFast(ctx context.Context, caller *Task, t *Thread, phone *Phone, method uint64, arg1 uint64) (Call, error) {
	var args [IPCArgCount]uint64
	args[0] = arg1
	return callSync(ctx, caller, t, phone, method, args)
}

// CallSync sends a call with a full argument payload across phone, blocking
// until answered. Spec.md section 4.F's ipc_call_sync.
func CallSync(ctx context.Context, caller *Task, t *Thread, phone *Phone, method uint64, args [IPCArgCount]uint64) (Call, error) {
	return callSync(ctx, caller, t, phone, method, args)
}

func callSync(ctx context.Context, caller *Task, t *Thread, phone *Phone, method uint64, args [IPCArgCount]uint64) (Call, error) {
	phone.lock.Lock()
	if phone.state != PhoneConnected {
		phone.lock.Unlock()
		return Call{}, ENOENT
	}
	callee := phone.callee
	phone.lock.Unlock()

	replyBox := caller.Answerbox
	c := newCall(method, args, caller, nil)
	ctx, c.report = reqtrace.StartSpan(ctx, callSpanLabel(c.Method))
	requestPreprocess(caller, phone, c)

	// A synchronous call has no separate reply-phone bookkeeping: the
	// caller blocks directly on its own answerbox for the matching answer,
	// recognized by pointer identity rather than a registered call id.
	callee.enqueueCall(c)

	// Block the calling thread itself (not a helper goroutine: blockOn may
	// only ever be driven by the thread's own run() goroutine) on the
	// caller's answerbox until the one answer matching c arrives, re-
	// queuing anything else that shows up first.
	var reply *Call
	for reply == nil {
		got := replyBox.WaitForCall(ctx, caller.kernel.config.Clock, t, 0, false)
		if got == nil {
			report := c.report
			c.report = nil
			report(EINTERRUPTED)
			return Call{}, EINTERRUPTED
		}
		if got == c {
			reply = got
			break
		}
		if got.Flags.has(CallAnswered) {
			replyBox.enqueueAnswer(got)
		} else if got.Flags.has(CallNotif) {
			replyBox.enqueueNotif(got)
		} else {
			replyBox.enqueueCall(got)
		}
	}

	err := processAnswer(caller, phone, reply)
	reportCallOutcome(reply)
	return *reply, err
}

// CallAsyncFast enqueues a call with the given method and two scalar
// arguments across phone without blocking, returning a call id the caller
// later passes to WaitForCall's result or to Forward/Answer bookkeeping.
// Spec.md section 4.F's ipc_call_async_fast.
func CallAsyncFast(caller *Task, phone *Phone, method uint64, arg1, arg2 uint64) (callid.ID, error) {
	var args [IPCArgCount]uint64
	args[0], args[1] = arg1, arg2
	return callAsync(caller, phone, method, args)
}

// CallAsync enqueues a call with a full argument payload across phone
// without blocking. Spec.md section 4.F's ipc_call_async.
func CallAsync(caller *Task, phone *Phone, method uint64, args [IPCArgCount]uint64) (callid.ID, error) {
	return callAsync(caller, phone, method, args)
}

func callAsync(caller *Task, phone *Phone, method uint64, args [IPCArgCount]uint64) (callid.ID, error) {
	phone.lock.Lock()
	if phone.state != PhoneConnected {
		phone.lock.Unlock()
		return 0, ENOENT
	}
	callee := phone.callee
	phone.lock.Unlock()

	if !caller.reserveAsyncSlot() {
		return 0, EAGAIN
	}

	c := newCall(method, args, caller, nil)
	// An async call has no caller-side context to extend (spec.md section
	// 4.F's ipc_call_async takes none either): its span roots at
	// context.Background() and closes out in WaitForCall's CallAnswered
	// branch below, whenever the caller eventually collects the reply.
	_, c.report = reqtrace.StartSpan(context.Background(), callSpanLabel(c.Method))
	requestPreprocess(caller, phone, c)
	id := caller.registerOutstanding(c)
	c.Private = id

	callee.enqueueCall(c)
	return id, nil
}

// ForwardFast re-sends an already-received call across a different phone,
// optionally overwriting its method and first argument, per spec.md section
// 4.E's ipc_forward. A non-system call takes the given method and arg1; a
// forwardable system call keeps its method and takes only arg1.
// PHONE_HUNGUP, AS_AREA_SEND and AS_AREA_RECV are never forwarded (EPERM).
func ForwardFast(caller *Task, c *Call, newPhone *Phone, method uint64, arg1 uint64) error {
	m := sysmethod.Method(c.Method)
	if !sysmethod.Forwardable(m) {
		return EPERM
	}

	newPhone.lock.Lock()
	if newPhone.state != PhoneConnected {
		newPhone.lock.Unlock()
		return ENOENT
	}
	callee := newPhone.callee
	newPhone.lock.Unlock()

	if sysmethod.IsSystem(m) {
		if sysmethod.ForwardableArg(m, 0) {
			// Method itself is never rewritten for system calls, only
			// args; callers that need a different system method must
			// originate a fresh call instead of forwarding.
		}
		c.Args[0] = arg1
	} else {
		c.Method = method
		c.Args[0] = arg1
	}

	c.Flags |= CallForwarded
	c.Private = nil
	requestPreprocess(caller, newPhone, c)
	callee.enqueueCall(c)
	return nil
}

// AnswerFast answers an already-received call with a scalar retval and two
// scalar reply arguments, per spec.md section 4.F's ipc_answer_fast.
func AnswerFast(answerer *Task, c *Call, retval int, arg1, arg2 uint64) error {
	var args [IPCArgCount]uint64
	args[0], args[1] = arg1, arg2
	return answer(answerer, c, retval, args)
}

// Answer answers an already-received call with a full reply payload, per
// spec.md section 4.F's ipc_answer.
func Answer(answerer *Task, c *Call, retval int, args [IPCArgCount]uint64) error {
	return answer(answerer, c, retval, args)
}

func answer(answerer *Task, c *Call, retval int, args [IPCArgCount]uint64) error {
	if c.Flags.has(CallNotif) {
		// spec.md section 9's preserved source behavior: answering a
		// notification callid is a silent no-op, not an error.
		return nil
	}

	// answer_preprocess needs the phone slot requestPreprocess stashed in
	// the request's Args[2], but the reply payload below overwrites Args
	// wholesale; stash a copy first the same way the source saves olddata
	// before sys_ipc_answer overwrites the call in place.
	if c.Flags.has(CallConnMeTo) {
		c.Private = c.Args[2]
	}

	c.Retval = retval
	c.Args = args
	answerPreprocess(answerer, c)
	c.Flags |= CallAnswered

	if c.Sender == nil {
		return nil
	}
	c.Sender.Answerbox.enqueueAnswer(c)
	return nil
}

// Hangup closes phone: any further call or forward across it fails with
// ENOENT. Nothing is delivered to the callee; no PHONE_HUNGUP call is sent.
// Spec.md section 4.E's hangup.
func Hangup(phone *Phone) error {
	phone.hangup()
	return nil
}

// WaitForCall blocks t until caller's answerbox has a call, answer or
// notification ready, honoring nonblocking and an optional timeout, per
// spec.md section 4.F's ipc_wait_for_call. The returned Call is nil on
// timeout or a non-blocking call with nothing pending.
func WaitForCall(ctx context.Context, caller *Task, t *Thread, timeout time.Duration, nonblocking bool) *Call {
	c := caller.Answerbox.WaitForCall(ctx, caller.kernel.config.Clock, t, timeout, nonblocking)
	if c == nil {
		return nil
	}
	if c.Flags.has(CallAnswered) {
		// The synchronous path (callSync) closes its own span the instant
		// it unblocks; this is the async path's matching close-out, reached
		// whenever the caller eventually collects a reply it sent via
		// CallAsync/CallAsyncFast.
		reportCallOutcome(c)
	} else if !c.Flags.has(CallNotif) {
		processRequest(caller, c)
	}
	return c
}

// requestPreprocess implements spec.md section 4.E's request_preprocess:
// CONNECT_ME_TO allocates a new phone slot in the caller and stamps its
// index into argument slot 2 so the callee's answer can reference it.
func requestPreprocess(caller *Task, phone *Phone, c *Call) {
	switch sysmethod.Method(c.Method) {
	case sysmethod.ConnectMeTo:
		idx, err := caller.allocPhone()
		if err != nil {
			c.Private = err
			return
		}
		c.Args[2] = uint64(idx)
		c.Flags |= CallConnMeTo
	}
}

// processRequest implements spec.md section 4.E step 4's process_request:
// for CONNECT_TO_ME, pre-allocate the phone in the caller before the
// callee even sees the request, symmetric to CONNECT_ME_TO's preprocess.
func processRequest(callee *Task, c *Call) {
	switch sysmethod.Method(c.Method) {
	case sysmethod.ConnectToMe:
		if c.Sender == nil {
			return
		}
		idx, err := c.Sender.allocPhone()
		if err != nil {
			c.Args[2] = 0
			return
		}
		c.Args[2] = uint64(idx)
	}
}

// answerPreprocess implements spec.md section 4.E's answer_preprocess: for
// a pending CONNECT_ME_TO, a zero retval connects the new phone to the
// answering task's answerbox, a non-zero retval frees it back to Free.
func answerPreprocess(answerer *Task, c *Call) {
	if !c.Flags.has(CallConnMeTo) || c.Sender == nil {
		return
	}
	savedIdx, ok := c.Private.(uint64)
	if !ok {
		return
	}
	p := c.Sender.Phone(int(savedIdx))
	if p == nil {
		return
	}
	if c.Retval != 0 {
		p.reset()
		return
	}
	p.connect(answerer.Answerbox)
}

// processAnswer implements spec.md section 4.E step 6's process_answer: a
// forwarded call whose callee answered EHANGUP is translated to EFORWARD so
// the original caller cannot distinguish "my direct peer hung up" from "a
// peer downstream of a forward hung up" in a way that would let it probe
// the forwarding chain. For a pending CONNECT_ME_TO it also restamps Args[2]
// with the phone index requestPreprocess allocated locally (stashed in
// c.Private across the round trip), since the callee's own reply payload
// overwrote that slot when it answered. Any other retval, zero or not, is
// the callee's reply and is left in c.Retval with a nil error.
func processAnswer(caller *Task, phone *Phone, c *Call) error {
	if c.Flags.has(CallConnMeTo) {
		if idx, ok := c.Private.(uint64); ok {
			if c.Retval != 0 {
				caller.deallocPhone(int(idx))
			} else {
				c.Args[2] = idx
			}
		}
	}

	if int(c.Retval) == int(EHANGUP) && c.Flags.has(CallForwarded) {
		return EFORWARD
	}
	return nil
}
