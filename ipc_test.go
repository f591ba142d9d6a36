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
	"testing"
	"time"

	"github.com/helenos-go/corekernel/sysmethod"
	"github.com/kylelemons/godebug/pretty"
	"golang.org/x/net/context"
)

func allocConnectedPhoneForTest(owner *Task, callee *Answerbox) (int, *Phone) {
	idx, p, err := owner.AllocPhoneForTest()
	if err != nil {
		panic(err)
	}
	p.ConnectForTest(callee)
	return idx, p
}

// TestIPC_SyncCallAndReply is spec.md section 8's S1.
func TestIPC_SyncCallAndReply(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	consumer := k.CreateTask()
	producer := k.CreateTask()

	errCh := make(chan error, 1)
	replyCh := make(chan Call, 1)

	k.CreateThread(consumer, func(th *Thread) {
		c := WaitForCall(context.Background(), consumer, th, 0, false)
		if c == nil {
			errCh <- errString("wait_for_call returned nil")
			return
		}
		if c.Method != 42 || c.Args[0] != 7 {
			errCh <- errString("got unexpected method/arg1")
			return
		}
		AnswerFast(consumer, c, 100, 8, 9)
	}, nil)

	_, phone := allocConnectedPhoneForTest(producer, consumer.Answerbox)

	k.CreateThread(producer, func(th *Thread) {
		reply, err := CallSyncFast(context.Background(), producer, th, phone, 42, 7)
		if err != nil {
			errCh <- err
			return
		}
		replyCh <- reply
	}, nil)

	select {
	case err := <-errCh:
		t.Fatal(err)
	case reply := <-replyCh:
		wantArgs := [IPCArgCount]uint64{8, 9, 0, 0, 0, 0}
		if reply.Retval != 100 || reply.Args != wantArgs {
			t.Fatalf("reply mismatch:\n%s", pretty.Compare(reply.Args, wantArgs))
		}
	case <-time.After(time.Second):
		t.Fatal("S1 timed out")
	}
}

// TestIPC_ConnectMeTo is spec.md section 8's S2.
func TestIPC_ConnectMeTo(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	server := k.CreateTask()
	client := k.CreateTask()

	errCh := make(chan error, 1)
	doneCh := make(chan struct{})

	k.CreateThread(server, func(th *Thread) {
		connect := WaitForCall(context.Background(), server, th, 0, false)
		if connect == nil || connect.Method != uint64(sysmethod.ConnectMeTo) {
			errCh <- errString("expected CONNECT_ME_TO")
			return
		}
		AnswerFast(server, connect, 0, 0, 0)

		req := WaitForCall(context.Background(), server, th, 0, false)
		if req == nil || req.Method != 99 {
			errCh <- errString("expected method 99 on the new phone")
			return
		}
		AnswerFast(server, req, 0, 0, 0)
		close(doneCh)
	}, nil)

	_, listen := allocConnectedPhoneForTest(client, server.Answerbox)

	k.CreateThread(client, func(th *Thread) {
		reply, err := CallSyncFast(context.Background(), client, th, listen, uint64(sysmethod.ConnectMeTo), 0)
		if err != nil {
			errCh <- err
			return
		}
		newPhone := client.Phone(int(reply.Args[2]))
		if newPhone == nil {
			errCh <- errString("client got no usable new phone")
			return
		}
		if _, err := CallSyncFast(context.Background(), client, th, newPhone, 99, 0); err != nil {
			errCh <- err
		}
	}, nil)

	select {
	case err := <-errCh:
		t.Fatal(err)
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("S2 timed out")
	}
}

// TestIPC_ForwardThenHangupObservedAsEForward is spec.md section 8's S3: a
// forwarded call whose ultimate callee answers EHANGUP must be observed by
// the original caller as EFORWARD, never EHANGUP, so it cannot distinguish
// "my direct peer hung up" from "something downstream of a forward did."
func TestIPC_ForwardThenHangupObservedAsEForward(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	caller := k.CreateTask()
	forwarder := k.CreateTask()
	callee := k.CreateTask()

	errCh := make(chan error, 1)
	resultCh := make(chan error, 1)

	k.CreateThread(callee, func(th *Thread) {
		c := WaitForCall(context.Background(), callee, th, 0, false)
		if c == nil {
			errCh <- errString("callee: wait_for_call returned nil")
			return
		}
		AnswerFast(callee, c, int(EHANGUP), 0, 0)
	}, nil)

	_, toCallee := allocConnectedPhoneForTest(forwarder, callee.Answerbox)

	k.CreateThread(forwarder, func(th *Thread) {
		c := WaitForCall(context.Background(), forwarder, th, 0, false)
		if c == nil {
			errCh <- errString("forwarder: wait_for_call returned nil")
			return
		}
		if err := ForwardFast(forwarder, c, toCallee, c.Method, 0); err != nil {
			errCh <- err
		}
	}, nil)

	_, toForwarder := allocConnectedPhoneForTest(caller, forwarder.Answerbox)

	k.CreateThread(caller, func(th *Thread) {
		_, err := CallSyncFast(context.Background(), caller, th, toForwarder, 7, 0)
		resultCh <- err
	}, nil)

	select {
	case err := <-errCh:
		t.Fatal(err)
	case err := <-resultCh:
		if err != EFORWARD {
			t.Fatalf("caller observed %v, want EFORWARD", err)
		}
	case <-time.After(time.Second):
		t.Fatal("S3 timed out")
	}
}

// TestIPC_AsyncCallAnswerViaWaitForCall checks that an async call's answer
// surfaces through the caller's own wait_for_call tagged CallAnswered.
func TestIPC_AsyncCallAnswerViaWaitForCall(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	callee := k.CreateTask()
	caller := k.CreateTask()

	errCh := make(chan error, 1)
	k.CreateThread(callee, func(th *Thread) {
		c := WaitForCall(context.Background(), callee, th, 0, false)
		if c == nil {
			errCh <- errString("callee: wait_for_call returned nil")
			return
		}
		AnswerFast(callee, c, 5, 0, 0)
	}, nil)

	_, phone := allocConnectedPhoneForTest(caller, callee.Answerbox)

	doneCh := make(chan struct{})
	k.CreateThread(caller, func(th *Thread) {
		if _, err := CallAsyncFast(caller, phone, 11, 1, 2); err != nil {
			errCh <- err
			return
		}
		c := WaitForCall(context.Background(), caller, th, 0, false)
		if c == nil || !c.Flags.has(CallAnswered) || c.Retval != 5 {
			errCh <- errString("caller did not observe the async answer")
			return
		}
		close(doneCh)
	}, nil)

	select {
	case err := <-errCh:
		t.Fatal(err)
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("async call/answer timed out")
	}
}

// TestIPC_CallOnHungupPhoneFails checks that calling across a hung-up phone
// fails with ENOENT rather than hanging or panicking, per spec.md section
// 4.E: "future calls on that phone fail with ENOENT."
func TestIPC_CallOnHungupPhoneFails(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	callee := k.CreateTask()
	caller := k.CreateTask()
	_, phone := allocConnectedPhoneForTest(caller, callee.Answerbox)
	Hangup(phone)

	errCh := make(chan error, 1)
	k.CreateThread(caller, func(th *Thread) {
		_, err := CallSyncFast(context.Background(), caller, th, phone, 1, 0)
		errCh <- err
	}, nil)

	select {
	case err := <-errCh:
		if err != ENOENT {
			t.Fatalf("got %v, want ENOENT", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
