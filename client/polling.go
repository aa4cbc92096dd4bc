package client

import (
	"fmt"
	"log"
	"time"
)

// PollOutcome is the tri-state result of awaiting a long-running remote operation
type PollOutcome string

// The three ways a poll can end. A timeout means the remote resource never reached a terminal
// state within the allotted wait, which is a different failure than the operation itself failing.
const (
	PollSucceeded PollOutcome = "succeeded"
	PollFailed    PollOutcome = "failed"
	PollTimedOut  PollOutcome = "timed-out"
)

// PollResult is what a finished poll reports: the outcome, the last observed remote state and the
// remote diagnostic reference (build log URI, operation ID) when there is one.
type PollResult struct {
	Outcome    PollOutcome
	State      string
	Diagnostic string
}

// PollCheck inspects the remote operation once. terminal reports whether the operation can still
// make progress, ok whether it ended successfully. A non-nil err is a transport problem and aborts
// the poll altogether.
type PollCheck func() (terminal bool, ok bool, state string, diagnostic string, err error)

// Poll synchronously awaits a long-running remote operation: it calls check every interval until
// the operation reaches a terminal state or maxWait elapses, logging the observed state for the
// operator at every step. Nothing is ever retried on failure, the outcome is reported as is.
func Poll(what string, interval, maxWait time.Duration, check PollCheck) (PollResult, error) {
	deadline := time.Now().Add(maxWait)
	lastState := ""

	for {
		terminal, ok, state, diagnostic, err := check()
		if err != nil {
			return PollResult{}, fmt.Errorf("[poll] Error checking %s: %s", what, err)
		}

		if state != lastState {
			log.Printf("[INFO][poll] %s: state is now %s", what, state)
			lastState = state
		}

		if terminal {
			outcome := PollFailed
			if ok {
				outcome = PollSucceeded
			}
			return PollResult{Outcome: outcome, State: state, Diagnostic: diagnostic}, nil
		}

		if time.Now().After(deadline) {
			return PollResult{
				Outcome:    PollTimedOut,
				State:      state,
				Diagnostic: fmt.Sprintf("%s did not reach a terminal state within %s", what, maxWait),
			}, nil
		}

		time.Sleep(interval)
	}
}
