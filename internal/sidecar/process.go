// Package sidecar launches and supervises the browser-automation process that
// hosts the messaging web client.
package sidecar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/danmuck/wabridge/internal/observability"
	"github.com/rs/zerolog"
)

var ErrEmptyCommand = errors.New("sidecar: empty command")

// Process is a running sidecar.
type Process struct {
	cmd    *exec.Cmd
	logger zerolog.Logger

	done chan struct{}
	once sync.Once
	err  error
}

// Start launches command and streams its output into the log, one entry
// per line.
func Start(command []string, env []string) (*Process, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrEmptyCommand
	}
	logger := observability.Component("sidecar").With().Str("cmd", command[0]).Logger()

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sidecar: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sidecar: start %s: %w", command[0], err)
	}

	p := &Process{cmd: cmd, logger: logger, done: make(chan struct{})}
	var streams sync.WaitGroup
	streams.Add(2)
	go p.stream(&streams, stdout, "stdout")
	go p.stream(&streams, stderr, "stderr")
	go func() {
		streams.Wait()
		p.err = cmd.Wait()
		p.logger.Info().AnErr("exit", p.err).Msg("sidecar exited")
		close(p.done)
	}()

	logger.Info().Int("pid", cmd.Process.Pid).Msg("sidecar started")
	return p, nil
}

func (p *Process) stream(wg *sync.WaitGroup, r io.Reader, name string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		event := p.logger.Info()
		if name == "stderr" {
			event = p.logger.Warn()
		}
		event.Str("stream", name).Msg(scanner.Text())
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stop interrupts the process and kills it if it has not exited within
// grace.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.once.Do(func() {
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = p.cmd.Process.Kill()
		}
	})
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		p.logger.Warn().Dur("grace", grace).Msg("sidecar did not stop, killing")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("sidecar: kill: %w", err)
		}
		<-p.done
		return nil
	}
}
