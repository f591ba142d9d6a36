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

// IPCArgCount is the number of scalar argument slots in a Call payload,
// spec.md section 6's IPC_CALL_LEN.
const IPCArgCount = 6

// CallFlags is a bitmask of the flags from spec.md section 3's Call.
type CallFlags uint32

const (
	// CallAnswered marks a call that has been through answer() and is
	// enqueued on the caller's answerbox answers list.
	CallAnswered CallFlags = 1 << iota
	// CallNotif marks a call synthesized by the IRQ top-half interpreter
	// rather than sent by a task.
	CallNotif
	// CallForwarded marks a call that has passed through ipc_forward at
	// least once.
	CallForwarded
	// CallStaticAlloc marks a call whose storage is owned by the sender's
	// stack frame rather than the heap (the synchronous fast-path case in
	// the source; this core always heap-allocates Call, but the flag is
	// preserved so forwarding/answer-preprocess logic ported from the
	// source can still branch on it).
	CallStaticAlloc
	// CallConnMeTo marks a call whose method is sysmethod.ConnectMeTo, so
	// that answer_preprocess knows to interpret retval specially.
	CallConnMeTo
	// CallDiscardAnswer marks a call whose answer should be dropped rather
	// than delivered. Nothing in this package sets it, and answer delivers
	// every answer whether or not it is set.
	CallDiscardAnswer
)

func (f CallFlags) has(bit CallFlags) bool { return f&bit != 0 }

// Call is a single message instance: method, arguments, and eventually a
// reply, per spec.md section 3.
type Call struct {
	Method     uint64
	Args       [IPCArgCount]uint64
	Retval     int

	// Sender is the task that originated this call, or nil for a
	// kernel-originated notification.
	Sender *Task

	// ReplyPhone is the phone an answer to this call should travel back
	// across, or nil for a call that cannot be answered (a notification).
	ReplyPhone *Phone

	Flags CallFlags

	// Private is scratch space used by preprocess hooks: an async call's id,
	// a CONNECT_ME_TO phone index saved across the answer, or an IRQ
	// notification's sequence number. ForwardFast clears it.
	Private interface{}

	// report closes out this call's reqtrace span, exactly once, with the
	// call's terminal outcome (nil on success). Nil for calls that are
	// never answered, such as IRQ-synthesized notifications. See
	// reportCallOutcome in ipc.go.
	report func(error)
}

// newCall allocates a Call with no flags set.
func newCall(method uint64, args [IPCArgCount]uint64, sender *Task, replyPhone *Phone) *Call {
	return &Call{
		Method:     method,
		Args:       args,
		Sender:     sender,
		ReplyPhone: replyPhone,
	}
}
