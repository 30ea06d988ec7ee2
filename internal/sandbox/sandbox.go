// Package sandbox runs agent programs against a persistent Lua
// namespace. One Session holds one namespace: globals defined by a
// program survive into later turns until Reset recreates the state
// with only the built-in bindings. Output and errors are captured as
// the two observation channels; nothing escapes as a panic.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"beltline/internal/capability"
	"beltline/internal/pathing"
)

// Phase tells which stage of a turn failed.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRuntime Phase = "runtime"
)

// RunError is a captured program failure. It is a return value, never
// a panic; the same text is mirrored on the stderr channel.
type RunError struct {
	Phase   Phase
	Message string
	Line    int
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Phase, e.Message)
}

// Session is one agent's execution environment. Not safe for
// concurrent use; the arena serializes turns per session.
type Session struct {
	client *capability.Client
	paths  *pathing.Correlator
	logger *slog.Logger

	state  *lua.LState
	ctx    context.Context
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func NewSession(client *capability.Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		client: client,
		paths:  pathing.NewCorrelator(client),
		logger: logger,
	}
	s.state = s.newState()
	return s
}

// Execute runs one program against the namespace and returns the two
// output channels. A non-nil RunError reports the failure; whatever
// the program defined before failing stays defined. There is no
// rollback and no automatic retry.
func (s *Session) Execute(ctx context.Context, program string) (string, string, *RunError) {
	s.ctx = ctx
	s.state.SetContext(ctx)
	defer func() {
		s.ctx = nil
		s.state.RemoveContext()
	}()
	s.stdout.Reset()
	s.stderr.Reset()

	fn, err := s.state.LoadString(program)
	if err != nil {
		return s.fail(PhaseCompile, err.Error())
	}

	s.state.Push(fn)
	if err := s.state.PCall(0, lua.MultRet, nil); err != nil {
		msg := err.Error()
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			msg = apiErr.Object.String()
		}
		return s.fail(PhaseRuntime, msg)
	}
	s.state.SetTop(0)

	s.logger.Debug("Program executed",
		"actor", s.client.Actor(),
		"stdout_bytes", s.stdout.Len())
	return s.stdout.String(), s.stderr.String(), nil
}

func (s *Session) fail(phase Phase, msg string) (string, string, *RunError) {
	runErr := &RunError{Phase: phase, Message: msg, Line: errorLine(msg)}
	fmt.Fprintf(&s.stderr, "%s\n", runErr.Error())
	s.logger.Debug("Program failed",
		"actor", s.client.Actor(),
		"phase", string(phase),
		"error", msg)
	return s.stdout.String(), s.stderr.String(), runErr
}

// Reset recreates the namespace with only the built-in bindings. Cached
// ticket outcomes die with the episode.
func (s *Session) Reset() {
	s.paths.Forget()
	s.state.Close()
	s.state = s.newState()
}

func (s *Session) Close() {
	s.state.Close()
}

// newState builds a fresh namespace: selected standard libraries, the
// host file loaders stripped, print captured, tool bindings installed.
func (s *Session) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			panic(fmt.Sprintf("open lua library %s: %v", lib.name, err))
		}
	}
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(s.luaPrint))
	s.registerBindings(L)
	return L
}

func (s *Session) luaPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.stdout.WriteString(strings.Join(parts, "\t"))
	s.stdout.WriteByte('\n')
	return 0
}

// context returns the Execute call's context for bindings to use.
func (s *Session) context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

var (
	parseLinePattern   = regexp.MustCompile(`line:(\d+)`)
	runtimeLinePattern = regexp.MustCompile(`:(\d+):`)
)

// errorLine digs the source line out of a gopher-lua error string, or
// 0 when the message carries none.
func errorLine(msg string) int {
	m := parseLinePattern.FindStringSubmatch(msg)
	if m == nil {
		m = runtimeLinePattern.FindStringSubmatch(msg)
	}
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
