// Package dispatch runs one agent invocation against a subprocess or native
// streaming backend and normalizes the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/observer"
	"github.com/mtzanidakis/teamrelay/internal/stream"
	"github.com/mtzanidakis/teamrelay/internal/team"
)

// DefaultTimeout bounds a native invocation when none is configured.
const DefaultTimeout = 120 * time.Second

// ClearanceNotice is prepended to a reset invocation's message when the
// agent has observer context.
const ClearanceNotice = "[Note: the previous conversation has been cleared. " +
	"The observations in your system prompt are the memory of record for earlier work.]"

// Streamer opens a native event stream. The channel is closed when the turn
// ends or ctx is done.
type Streamer interface {
	Stream(ctx context.Context, req stream.Request) (<-chan stream.Event, error)
}

// Observer supplies injected context and records finished exchanges.
type Observer interface {
	Context(agentID, workspaceRoot string) (string, bool)
	Record(req observer.RecordRequest)
}

// SecretResolver returns KEY=VALUE pairs for the secrets assigned to an
// agent.
type SecretResolver interface {
	SecretEnv(ctx context.Context, agentID string, names []string) ([]string, error)
}

// Request is one invocation.
type Request struct {
	Agent         config.AgentDefinition
	AgentID       string
	Message       string
	WorkspaceRoot string
	// Reset starts a fresh conversation instead of continuing the last one.
	Reset  bool
	Agents map[string]config.AgentDefinition
	Teams  config.Teams
}

type Dispatcher struct {
	mu       sync.RWMutex
	cfg      config.DispatchConfig
	obsCfg   config.ObserverConfig
	streamer Streamer
	observer Observer
	runner   CommandRunner
	secrets  SecretResolver
	env      []string
}

func New(cfg config.DispatchConfig, obsCfg config.ObserverConfig, streamer Streamer, obs Observer) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		obsCfg:   obsCfg,
		streamer: streamer,
		observer: obs,
		runner:   ExecRunner{},
	}
}

// SetRunner replaces the subprocess runner.
func (d *Dispatcher) SetRunner(r CommandRunner) {
	d.mu.Lock()
	d.runner = r
	d.mu.Unlock()
}

func (d *Dispatcher) SetSecretResolver(s SecretResolver) {
	d.mu.Lock()
	d.secrets = s
	d.mu.Unlock()
}

// SetEnv sets extra KEY=VALUE pairs passed to every backend process, such
// as the bus URL the agent's tools connect to.
func (d *Dispatcher) SetEnv(env ...string) {
	d.mu.Lock()
	d.env = env
	d.mu.Unlock()
}

// UpdateConfig applies reloaded dispatch and observer settings to later
// invocations.
func (d *Dispatcher) UpdateConfig(cfg config.DispatchConfig, obsCfg config.ObserverConfig) {
	d.mu.Lock()
	d.cfg = cfg
	d.obsCfg = obsCfg
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (config.DispatchConfig, config.ObserverConfig, CommandRunner, SecretResolver) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg, d.obsCfg, d.runner, d.secrets
}

// WorkDir resolves the agent's working directory: the override (absolute,
// or relative to workspaceRoot) or workspaceRoot/agentID. It must exist.
func WorkDir(agent config.AgentDefinition, agentID, workspaceRoot string) (string, error) {
	dir := filepath.Join(workspaceRoot, agentID)
	if wd := agent.WorkingDirectory; wd != "" {
		if filepath.IsAbs(wd) {
			dir = wd
		} else {
			dir = filepath.Join(workspaceRoot, wd)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrWorkDir, dir)
	}
	return dir, nil
}

// Invoke runs one invocation and returns its result. Observer-enabled agents
// have the exchange recorded in the background after a success.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (Result, error) {
	provider, err := ParseProvider(req.Agent.Provider)
	if err != nil {
		return nil, err
	}
	dir, err := WorkDir(req.Agent, req.AgentID, req.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res Result
	switch provider {
	case ProviderExec:
		res, err = d.invokeExec(ctx, req, dir)
	case ProviderRun:
		res, err = d.invokeRun(ctx, req, dir)
	case ProviderNative:
		res, err = d.invokeNative(ctx, req, dir)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("agent invoked", "agent", req.AgentID, "provider", provider, "reset", req.Reset, "duration", time.Since(start))
	d.record(req, provider, res)
	return res, nil
}

func (d *Dispatcher) invokeExec(ctx context.Context, req Request, dir string) (Result, error) {
	cfg, _, _, _ := d.snapshot()

	args := []string{"exec"}
	if !req.Reset {
		args = append(args, "resume", "--last")
	}
	if req.Agent.Model != "" {
		args = append(args, "--model", req.Agent.Model)
	}
	args = append(args, "--skip-git-repo-check", "--dangerously-bypass-approvals-and-sandbox", "--json", req.Message)

	out, err := d.runProcess(ctx, ProviderExec, req, Command{Name: cfg.CodexCommand, Args: args, Dir: dir})
	if err != nil {
		return nil, err
	}
	return TextResult{Response: parseExecOutput(out)}, nil
}

func (d *Dispatcher) invokeRun(ctx context.Context, req Request, dir string) (Result, error) {
	cfg, _, _, _ := d.snapshot()

	args := []string{"run", "--format", "json"}
	if req.Agent.Model != "" {
		args = append(args, "--model", req.Agent.Model)
	}
	if !req.Reset {
		args = append(args, "--continue")
	}
	args = append(args, req.Message)

	out, err := d.runProcess(ctx, ProviderRun, req, Command{Name: cfg.OpencodeCommand, Args: args, Dir: dir})
	if err != nil {
		return nil, err
	}
	return TextResult{Response: parseRunOutput(out)}, nil
}

func (d *Dispatcher) runProcess(ctx context.Context, provider Provider, req Request, cmd Command) ([]byte, error) {
	_, _, runner, secrets := d.snapshot()
	d.mu.RLock()
	cmd.Env = append([]string{"TEAMRELAY_AGENT=" + req.AgentID}, d.env...)
	d.mu.RUnlock()

	if secrets != nil {
		env, err := secrets.SecretEnv(ctx, req.AgentID, req.Agent.Secrets)
		if err != nil {
			return nil, fmt.Errorf("resolve secrets: %w", err)
		}
		cmd.Env = append(cmd.Env, env...)
	}

	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", provider, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s: %w", provider, &ExitError{
			Provider: provider,
			Code:     res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
		})
	}
	return res.Stdout, nil
}

func (d *Dispatcher) invokeNative(ctx context.Context, req Request, dir string) (Result, error) {
	cfg, _, _, _ := d.snapshot()
	if d.streamer == nil {
		return nil, errors.New("native backend not configured")
	}

	var blocks []string
	obsContext, hasObs := "", false
	if req.Agent.Observer && d.observer != nil {
		obsContext, hasObs = d.observer.Context(req.AgentID, req.WorkspaceRoot)
	}
	if hasObs {
		blocks = append(blocks, obsContext)
	}
	if teamBlock, ok := team.Context(req.AgentID, req.Teams); ok {
		blocks = append(blocks, teamBlock)
	}

	prompt := req.Message
	if req.Reset && hasObs {
		prompt = ClearanceNotice + "\n\n" + prompt
	}

	sreq := stream.Request{
		AgentID:      req.AgentID,
		Prompt:       prompt,
		SystemPrompt: strings.Join(blocks, "\n\n"),
		Model:        req.Agent.Model,
		WorkDir:      dir,
	}
	if req.Reset {
		sreq.SessionID = uuid.NewString()
		sreq.Reset = true
	} else {
		sreq.Continue = true
		sreq.PersistSession = true
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events, err := d.streamer.Stream(streamCtx, sreq)
	if err != nil {
		return nil, streamFailure(ctx, streamCtx, fmt.Errorf("start stream: %w", err))
	}

	res, err := consume(streamCtx, events)
	if err != nil {
		return nil, streamFailure(ctx, streamCtx, err)
	}
	return res, nil
}

// streamFailure reports ErrTimeout when the invocation deadline, not the
// caller, ended the stream.
func streamFailure(parent, streamCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func consume(ctx context.Context, events <-chan stream.Event) (StreamResult, error) {
	var res StreamResult
	for {
		select {
		case <-ctx.Done():
			return StreamResult{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return StreamResult{}, ctx.Err()
				}
				return StreamResult{}, ErrNoResult
			}
			if res.SessionID == "" && ev.SessionID != "" {
				res.SessionID = ev.SessionID
			}
			switch ev.Type {
			case stream.TypeAssistant, stream.TypeUser:
				if ev.IsReplay || ev.Message == nil {
					continue
				}
				msg := *ev.Message
				if msg.Role == "" {
					msg.Role = ev.Type
				}
				res.Messages = append(res.Messages, msg)
			case stream.TypeResult:
				if ev.IsError() {
					return StreamResult{}, &StreamError{Subtype: ev.Subtype, Errors: ev.Errors}
				}
				res.Response = ev.Result
				if ev.SessionID != "" {
					res.SessionID = ev.SessionID
				}
				return res, nil
			}
		}
	}
}

func (d *Dispatcher) record(req Request, provider Provider, res Result) {
	if !req.Agent.Observer || d.observer == nil {
		return
	}
	_, obsCfg, _, _ := d.snapshot()

	var msgs []stream.Message
	if sr, ok := res.(StreamResult); ok {
		msgs = sr.Messages
	} else {
		msgs = []stream.Message{
			stream.TextMessage(stream.TypeUser, req.Message),
			stream.TextMessage(stream.TypeAssistant, res.Text()),
		}
	}

	tokens, reflection := obsCfg.Thresholds(req.Agent)
	d.observer.Record(observer.RecordRequest{
		AgentID:             req.AgentID,
		WorkspaceRoot:       req.WorkspaceRoot,
		Provider:            string(provider),
		Messages:            msgs,
		TokenThreshold:      tokens,
		ReflectionThreshold: reflection,
	})
}
