package collab

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"kizuna/internal/domain"
	"kizuna/internal/handlers"
)

// LocalExecutor runs commands on this device, the loopback stand-in for a
// remote peer's execution service.
type LocalExecutor struct{}

func (LocalExecutor) Execute(ctx context.Context, _ domain.PeerID, command string) (handlers.ExecResult, error) {
	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}
	cmd := exec.CommandContext(ctx, shell, flag, command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := handlers.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// MemClipboard holds per-peer clipboard content in memory and implements the
// sync contract over it.
type MemClipboard struct {
	mu      sync.Mutex
	local   string
	remotes map[domain.PeerID]string
}

func NewMemClipboard() *MemClipboard {
	return &MemClipboard{remotes: map[domain.PeerID]string{}}
}

// SetLocal replaces the local clipboard content.
func (c *MemClipboard) SetLocal(content string) {
	c.mu.Lock()
	c.local = content
	c.mu.Unlock()
}

func (c *MemClipboard) Push(_ context.Context, peer domain.PeerID) error {
	c.mu.Lock()
	c.remotes[peer] = c.local
	c.mu.Unlock()
	return nil
}

func (c *MemClipboard) Pull(_ context.Context, peer domain.PeerID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remotes[peer], nil
}

// Sync mirrors local content to the peer on a slow poll until ctx ends,
// reporting the cumulative update count.
func (c *MemClipboard) Sync(ctx context.Context, peer domain.PeerID) (<-chan int, error) {
	updates := make(chan int, 8)
	go func() {
		defer close(updates)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		var last string
		count := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				current := c.local
				c.remotes[peer] = current
				c.mu.Unlock()
				if current != last {
					last = current
					count++
					select {
					case updates <- count:
					default:
					}
				}
			}
		}
	}()
	return updates, nil
}
