// Package analyzer runs prompts through an external analysis command and
// tracks which sessions are currently in flight.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "repocron/pkg/logx"
)

// Config is per-job passthrough for the analysis command.
type Config struct {
	PermissionMode string
	AllowedTools   []string
	MaxTurns       int
	Model          string
}

// Result is the outcome of one analysis.
type Result struct {
	Success bool
	Text    string
	Error   string
}

// Options configure a Runner.
type Options struct {
	Binary         string
	Args           []string
	Timeout        time.Duration // 0 means no per-run timeout
	MaxOutputBytes int           // 0 means 1 MiB
}

// Runner executes Options.Binary once per prompt. The prompt goes to stdin,
// stdout is the result text.
type Runner struct {
	opts Options
	log  logx.Logger

	mu      sync.Mutex
	running map[string]time.Time
}

func NewRunner(opts Options, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	return &Runner{
		opts:    opts,
		log:     log.With(logx.Component("analyzer")),
		running: map[string]time.Time{},
	}
}

// Args renders the command line arguments for cfg.
func (r *Runner) Args(cfg Config) []string {
	args := append([]string(nil), r.opts.Args...)
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	return args
}

// Run executes one analysis in workDir. A non-zero exit is reported through
// Result (Success=false); err is reserved for failures to run at all.
func (r *Runner) Run(ctx context.Context, prompt, workDir string, cfg Config) (Result, error) {
	if strings.TrimSpace(r.opts.Binary) == "" {
		return Result{}, errors.New("analyzer binary not configured")
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.opts.Binary, r.Args(cfg)...)
	// Force-close pipes shortly after a kill so Wait cannot hang on
	// grandchildren holding stdout open.
	cmd.WaitDelay = 5 * time.Second
	if strings.TrimSpace(workDir) != "" {
		cmd.Dir = workDir
	}
	cmd.Stdin = strings.NewReader(prompt)
	stdout := &cappedBuffer{max: r.opts.MaxOutputBytes}
	stderr := &cappedBuffer{max: 64 << 10}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("run %s: %w", r.opts.Binary, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			msg = fmt.Sprintf("analysis aborted: %v", ctx.Err())
		} else if msg == "" {
			msg = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		r.log.Debug("analysis failed",
			logx.String("dir", workDir),
			logx.Int("exit_code", exitErr.ExitCode()),
			logx.Duration("took", took),
		)
		return Result{Success: false, Text: stdout.String(), Error: msg}, nil
	}

	r.log.Debug("analysis finished",
		logx.String("dir", workDir),
		logx.Duration("took", took),
		logx.Bool("truncated", stdout.truncated),
	)
	return Result{Success: true, Text: stdout.String()}, nil
}

// RegisterRunning marks a session as in flight.
func (r *Runner) RegisterRunning(id string) {
	r.mu.Lock()
	r.running[id] = time.Now()
	r.mu.Unlock()
}

// UnregisterRunning clears an in-flight mark. Unknown ids are ignored.
func (r *Runner) UnregisterRunning(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

// Running returns the in-flight session ids, oldest first.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := r.running[ids[i]], r.running[ids[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// cappedBuffer keeps the first max bytes and silently discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
