package vm

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ---------------------------------------------------------------------------
// Verification errors
// ---------------------------------------------------------------------------

// Rule names a verifier check.
type Rule string

const (
	// Structural rules
	RuleUnknownOpcode Rule = "unknown-opcode"
	RuleSlotRange     Rule = "slot-range"
	RuleConstRange    Rule = "const-range"
	RuleStringConst   Rule = "string-const"
	RuleFuncRange     Rule = "func-range"
	RuleTargetRange   Rule = "target-range"
	RuleFlag          Rule = "flag"
	RuleArgCount      Rule = "arg-count"
	RuleArgSlot       Rule = "arg-slot"

	// Control-flow rules
	RuleNegativeDepth     Rule = "negative-try-depth"
	RuleInconsistentMerge Rule = "inconsistent-merge"
	RuleExitDepth         Rule = "exit-depth"
	RuleCatchNotBind      Rule = "catch-target-not-bind"
	RuleCatchReachable    Rule = "catch-target-reachable"
	RuleStrayCatchBind    Rule = "stray-catch-bind"
)

// VerificationError identifies one violated rule at one instruction.
type VerificationError struct {
	Function  string
	FuncIndex int
	PC        int
	Rule      Rule
	Detail    string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify: %s (function %d) pc %d: %s: %s",
		e.Function, e.FuncIndex, e.PC, e.Rule, e.Detail)
}

// Violations returns every VerificationError carried by err, in the order the
// verifier found them.
func Violations(err error) []*VerificationError {
	var out []*VerificationError
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			var ve *VerificationError
			if errors.As(e, &ve) {
				out = append(out, ve)
			}
		}
		return out
	}
	var ve *VerificationError
	if errors.As(err, &ve) {
		out = append(out, ve)
	}
	return out
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// LimitKind names the resource a RuntimeFatalError ran out of.
type LimitKind string

const (
	LimitSteps       LimitKind = "steps"
	LimitCallDepth   LimitKind = "call-depth"
	LimitHandlers    LimitKind = "handlers-per-frame"
	LimitArrayLength LimitKind = "array-length"
	LimitCancelled   LimitKind = "cancelled"
)

// RuntimeFatalError aborts a run. Language-level handlers never see it.
type RuntimeFatalError struct {
	Limit    LimitKind
	Max      int64 // the configured limit, 0 for cancellation
	Function string
	PC       int
	Err      error // ctx.Err() for cancellation
}

func (e *RuntimeFatalError) Error() string {
	if e.Limit == LimitCancelled {
		return fmt.Sprintf("fatal: run cancelled in %s at pc %d: %v", e.Function, e.PC, e.Err)
	}
	return fmt.Sprintf("fatal: %s limit %d exceeded in %s at pc %d", e.Limit, e.Max, e.Function, e.PC)
}

func (e *RuntimeFatalError) Unwrap() error {
	return e.Err
}

// UncaughtException reports a thrown value that no handler accepted.
// Function and PC locate the instruction that raised it.
type UncaughtException struct {
	Value    Value
	TypeName string
	Function string
	PC       int
}

func (e *UncaughtException) Error() string {
	msg := fmt.Sprintf("uncaught %s", e.TypeName)
	if m, ok := exceptionMessage(e.Value); ok {
		msg += ": " + m
	} else if _, isObj := e.Value.(*Object); !isObj {
		msg += ": " + Format(e.Value)
	}
	return fmt.Sprintf("%s (thrown in %s at pc %d)", msg, e.Function, e.PC)
}
