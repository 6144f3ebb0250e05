package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/teamrelay/internal/config"
	"github.com/mtzanidakis/teamrelay/internal/stream"
)

// RecordRequest is one exchange to hand to the summarizer.
type RecordRequest struct {
	AgentID             string
	WorkspaceRoot       string
	Provider            string
	Messages            []stream.Message
	TokenThreshold      int
	ReflectionThreshold int
}

// Recorder runs the external summarizer for finished exchanges. Recording
// happens in the background and never fails the caller.
type Recorder struct {
	mu  sync.RWMutex
	cfg config.ObserverConfig
	wg  sync.WaitGroup
}

func NewRecorder(cfg config.ObserverConfig) *Recorder {
	return &Recorder{cfg: cfg}
}

// UpdateConfig applies to recordings started afterwards.
func (r *Recorder) UpdateConfig(cfg config.ObserverConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Record starts recording req and returns immediately.
func (r *Recorder) Record(req RecordRequest) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	if cfg.Script == "" {
		slog.Debug("observer script not configured, skipping record", "agent", req.AgentID)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := record(cfg, req); err != nil {
			slog.Warn("observer record failed", "agent", req.AgentID, "error", err)
		}
	}()
}

// Wait blocks until in-flight recordings finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func record(cfg config.ObserverConfig, req RecordRequest) error {
	entries := Normalize(req.Messages)
	if len(entries) == 0 {
		return nil
	}

	dir := StateDir(req.AgentID, req.WorkspaceRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create observer dir: %w", err)
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	name := fmt.Sprintf("exchange-%d-%s.json", time.Now().UnixNano(), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	defer func() { _ = os.Remove(path) }()

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write exchange: %w", err)
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	bin, args := command(cfg, path, req)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run summarizer: %w: %s", err, strings.TrimSpace(string(out)))
	}

	slog.Debug("observer recorded exchange", "agent", req.AgentID, "messages", len(entries))
	return nil
}

func command(cfg config.ObserverConfig, path string, req RecordRequest) (string, []string) {
	args := []string{
		"--file", path,
		"--agent", req.AgentID,
		"--provider", req.Provider,
		"--token-threshold", strconv.Itoa(req.TokenThreshold),
		"--reflection-threshold", strconv.Itoa(req.ReflectionThreshold),
	}
	if cfg.Runtime == "" {
		return cfg.Script, args
	}
	return cfg.Runtime, append([]string{cfg.Script}, args...)
}
