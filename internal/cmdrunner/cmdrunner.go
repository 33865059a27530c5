// Package cmdrunner executes host networking utilities (ip, iptables),
// optionally inside a named network namespace, the way the fleet manager's
// Command Runner component is specified to.
package cmdrunner

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/fleeterr"
)

// Namespace selects where a command runs: the host's default namespace, or
// a named network namespace entered via `ip netns exec`.
type Namespace struct {
	name   string
	global bool
}

// Global is the host's own network namespace.
func Global() Namespace { return Namespace{global: true} }

// Named wraps commands in `ip netns exec <name> ...`.
func Named(name string) Namespace { return Namespace{name: name} }

func (n Namespace) String() string {
	if n.global {
		return "global"
	}
	return n.name
}

// Runner executes shell commands, logging each invocation and its result
// the way the original orchestrator does.
type Runner struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Runner {
	return &Runner{log: log}
}

// Result is what a command produced, regardless of whether it succeeded.
// ExitCode is 0 on success; callers decide which nonzero codes, if any, they
// tolerate (e.g. idempotent `ip`/`iptables` reinstall paths).
type Result struct {
	ExitCode int
	Output   []byte
}

func (r Result) Success() bool { return r.ExitCode == 0 }

// Run executes program with args inside ns. The returned error is non-nil
// only when the process itself could not be spawned or awaited (missing
// binary, fork/exec failure) — a nonzero exit status is reported through
// Result.ExitCode, not through err, since the program running at all means
// the command runner did its job.
func (r *Runner) Run(ns Namespace, program string, args ...string) (Result, error) {
	if ns.global {
		return r.runInner(program, args)
	}
	return r.runInNamespace(ns.name, program, args)
}

func (r *Runner) runInNamespace(namespace, program string, args []string) (Result, error) {
	nsArgs := append([]string{"netns", "exec", namespace, program}, args...)
	return r.runInner("ip", nsArgs)
}

func (r *Runner) runInner(program string, args []string) (Result, error) {
	cmd := exec.Command(program, args...)
	out, err := cmd.CombinedOutput()
	exitCode := 0
	var spawnErr error
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			spawnErr = fleeterr.New(fleeterr.KindCommandSpawn,
				fmt.Sprintf("run %s %s", program, strings.Join(args, " ")), err)
		}
	}
	if r.log != nil {
		r.log.Debug("ran command",
			zap.String("program", program),
			zap.Strings("args", args),
			zap.ByteString("output", out),
			zap.Int("exit_code", exitCode),
			zap.Error(spawnErr),
		)
	}
	return Result{ExitCode: exitCode, Output: out}, spawnErr
}
