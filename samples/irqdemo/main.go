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

// Command irqdemo runs spec.md section 8's S4: it registers an IRQ handler
// whose top-half program loads a constant into a scratch register and
// accepts, triggers that IRQ, and checks that the resulting notification
// carries the expected payload.
package main

import (
	"fmt"
	"log"

	corekernel "github.com/helenos-go/corekernel"
	"github.com/helenos-go/corekernel/irqvm"
	"golang.org/x/net/context"
)

const (
	irqLine       = 7
	notifMethod   = 0x100
	expectedValue = 0x55
)

func main() {
	k := corekernel.Boot(corekernel.DefaultConfig())
	defer k.Shutdown()

	owner := k.CreateTask()
	owner.Grant(corekernel.CapIRQReg)

	prog := irqvm.UnvalidatedProgram{
		Cmds: []irqvm.Instruction{
			{Op: irqvm.OpLoad, Dstarg: 1, Value: expectedValue},
			{Op: irqvm.OpAccept},
		},
	}

	irq, err := k.RegisterIRQ(owner, irqLine, notifMethod, owner.Answerbox, prog, corekernel.NewSimPIO(1), corekernel.IdentityResolver)
	if err != nil {
		log.Fatalf("RegisterIRQ: %v", err)
	}
	defer k.UnregisterIRQ(irq)

	if claimed := k.DispatchIRQ(irqLine); !claimed {
		log.Fatalf("DispatchIRQ(%d): not claimed", irqLine)
	}

	done := make(chan *corekernel.Call, 1)
	k.CreateThread(owner, func(t *corekernel.Thread) {
		c := corekernel.WaitForCall(context.Background(), owner, t, 0, false)
		done <- c
	}, nil)

	c := <-done
	if c == nil {
		log.Fatalf("wait_for_call returned nil")
	}
	if c.Method != notifMethod || c.Args[0] != expectedValue {
		log.Fatalf("got method=%#x arg1=%#x, want %#x/%#x", c.Method, c.Args[0], uint64(notifMethod), uint64(expectedValue))
	}
	if err := corekernel.Answer(owner, c, 0, [corekernel.IPCArgCount]uint64{}); err != nil {
		log.Fatalf("answering a notification callid should be a silent no-op: %v", err)
	}

	fmt.Println("S4 (IRQ notification) OK")
}
