// Package shellexec implements the restricted command runner of spec.md
// section 4.10, used both by the Heavy Tick's "shell" action type and by
// the introspection surface's /shell/execute endpoint.
//
// There is no direct teacher analogue -- the teacher proxies HTTP, not
// shells -- so this is modeled on the validate-then-execute-then-record
// pipeline shape the teacher applies to reverse-proxy requests
// (modules/reverseproxy: validate -> circuit-guarded execute -> record
// metrics/events), substituting os/exec.CommandContext for the HTTP
// round trip and episodic-memory writes for metrics.
package shellexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
)

// unsafeChars are tokenization-breaking characters that cause outright
// rejection: pipe, redirect, background, separator, backtick, and
// command-substitution markers.
var unsafeChars = []string{"|", ">", "<", "&", ";", "`", "$(", "\n"}

// CommandSpec whitelists one leading token with its allowed flags and
// timeout.
type CommandSpec struct {
	AllowedFlags map[string]bool
	Timeout      time.Duration
}

// DefaultWhitelist is the small set of read-only inspection commands
// permitted by default, per spec.md section 4.10.
func DefaultWhitelist() map[string]CommandSpec {
	return map[string]CommandSpec{
		"ls": {AllowedFlags: map[string]bool{"-l": true, "-a": true, "-la": true, "-al": true}, Timeout: 5 * time.Second},
		"cat": {AllowedFlags: map[string]bool{}, Timeout: 5 * time.Second},
		"pwd": {AllowedFlags: map[string]bool{}, Timeout: 2 * time.Second},
		"echo": {AllowedFlags: map[string]bool{}, Timeout: 2 * time.Second},
		"wc": {AllowedFlags: map[string]bool{"-l": true, "-w": true, "-c": true}, Timeout: 5 * time.Second},
		"grep": {AllowedFlags: map[string]bool{"-n": true, "-i": true, "-c": true}, Timeout: 10 * time.Second},
		"find": {AllowedFlags: map[string]bool{"-name": true, "-type": true}, Timeout: 10 * time.Second},
	}
}

// Result is the structured outcome returned to both callers, per spec.md
// section 4.10.
type Result struct {
	Success  bool          `json:"success"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Executor runs whitelisted commands confined to an allowed directory.
type Executor struct {
	allowedDir     string
	outputCapBytes int
	whitelist      map[string]CommandSpec

	episodic *episodic.Store
	logger   logging.Logger

	rejected int64
}

// New constructs an Executor. allowedDir is resolved to an absolute path
// once at construction so later traversal checks are a simple prefix
// test.
func New(allowedDir string, outputCapBytes int, whitelist map[string]CommandSpec, ep *episodic.Store, logger logging.Logger) (*Executor, error) {
	abs, err := filepath.Abs(allowedDir)
	if err != nil {
		return nil, fmt.Errorf("shellexec: resolve allowed dir: %w", err)
	}
	if whitelist == nil {
		whitelist = DefaultWhitelist()
	}
	return &Executor{
		allowedDir:     abs,
		outputCapBytes: outputCapBytes,
		whitelist:      whitelist,
		episodic:       ep,
		logger:         logger,
	}, nil
}

// RejectedCount reports how many commands have failed validation, for
// the /shell/stats introspection endpoint. Heavy Tick's shell action and
// the introspection surface's /shell/execute endpoint can call Execute
// concurrently, so this is an atomic counter rather than a plain int.
func (e *Executor) RejectedCount() int { return int(atomic.LoadInt64(&e.rejected)) }

// Execute validates then runs command, recording an episode for every
// outcome: shell.rejected, shell.executed, or shell.error.
func (e *Executor) Execute(ctx context.Context, command string) (Result, error) {
	tokens, reason := e.validate(command)
	if reason != "" {
		atomic.AddInt64(&e.rejected, 1)
		e.recordEpisode(ctx, "shell.rejected", fmt.Sprintf("%s: %s", command, reason), nil)
		return Result{Success: false, Stderr: reason}, nil
	}

	spec := e.whitelist[tokens[0]]
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, tokens[0], tokens[1:]...)
	cmd.Dir = e.allowedDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		msg := "command timed out"
		e.recordEpisode(ctx, "shell.error", fmt.Sprintf("%s: %s", command, msg), nil)
		return Result{Success: false, Stderr: msg, Duration: elapsed}, nil
	}

	exitCode := 0
	success := runErr == nil
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			e.recordEpisode(ctx, "shell.error", fmt.Sprintf("%s: %s", command, runErr), nil)
			return Result{Success: false, Stderr: runErr.Error(), Duration: elapsed}, nil
		}
	}

	result := Result{
		Success:  success,
		Stdout:   e.cap(stdout.String()),
		Stderr:   e.cap(stderr.String()),
		ExitCode: exitCode,
		Duration: elapsed,
	}

	eventType := "shell.executed"
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	e.recordEpisode(ctx, eventType, fmt.Sprintf("%s (exit %d)", command, exitCode), map[string]any{"outcome": outcome})
	return result, nil
}

func (e *Executor) cap(s string) string {
	if e.outputCapBytes <= 0 || len(s) <= e.outputCapBytes {
		return s
	}
	return s[:e.outputCapBytes]
}

// validate tokenizes command on whitespace (no shell interpretation
// anywhere), rejects any unsafe character, confirms the leading token is
// whitelisted with only allowed flags, and confines any path-looking
// argument inside the allowed directory.
func (e *Executor) validate(command string) (tokens []string, rejectReason string) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, "empty command"
	}
	for _, c := range unsafeChars {
		if strings.Contains(trimmed, c) {
			return nil, fmt.Sprintf("command contains disallowed character %q", c)
		}
	}

	tokens = strings.Fields(trimmed)
	spec, ok := e.whitelist[tokens[0]]
	if !ok {
		return nil, fmt.Sprintf("command %q is not whitelisted", tokens[0])
	}

	for _, tok := range tokens[1:] {
		if strings.HasPrefix(tok, "-") {
			if !spec.AllowedFlags[tok] {
				return nil, fmt.Sprintf("flag %q is not allowed for %q", tok, tokens[0])
			}
			continue
		}
		if err := e.checkPathConfinement(tok); err != nil {
			return nil, err.Error()
		}
	}
	return tokens, ""
}

func (e *Executor) checkPathConfinement(arg string) error {
	candidate := arg
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(e.allowedDir, candidate)
	}
	resolved := filepath.Clean(candidate)
	if resolved != e.allowedDir && !strings.HasPrefix(resolved, e.allowedDir+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the allowed directory", arg)
	}
	return nil
}

func (e *Executor) recordEpisode(ctx context.Context, eventType, description string, data any) {
	if e.episodic == nil {
		return
	}
	outcome := model.OutcomeUnknown
	switch eventType {
	case "shell.executed":
		outcome = model.OutcomeSuccess
	case "shell.rejected", "shell.error":
		outcome = model.OutcomeFailure
	}
	_, _ = e.episodic.AddEpisode(ctx, eventType, description, outcome, data)
}
