package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/armada/pkg/models"
)

// Subprocess runs a configured command per assignment.
//
// The assignment is written to stdin as JSON. Every stderr line becomes an agent
// message: either a JSON object {"type","content","tool"} or plain text, reported
// as thinking. Stdout must carry a Result as JSON. A non-zero exit is a failure.
type Subprocess struct {
	Command string
	Args    []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// WaitDelay bounds how long output is still read after the process exits.
	// Zero means DefaultWaitDelay.
	WaitDelay time.Duration
}

// DefaultWaitDelay is the output grace period after an agent process exits.
const DefaultWaitDelay = 5 * time.Second

func (s *Subprocess) waitDelay() time.Duration {
	if s.WaitDelay > 0 {
		return s.WaitDelay
	}
	return DefaultWaitDelay
}

var _ Executor = (*Subprocess)(nil)

// NewSubprocess creates a subprocess executor from a shell-style command line.
func NewSubprocess(commandLine, dir string) (*Subprocess, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("agent command is empty")
	}
	return &Subprocess{Command: fields[0], Args: fields[1:], Dir: dir}, nil
}

type stderrLine struct {
	Type    models.MessageType `json:"type"`
	Content string             `json:"content"`
	Tool    string             `json:"tool"`
}

// Execute runs the command and decodes its result.
func (s *Subprocess) Execute(ctx context.Context, a Assignment, r Reporter) Result {
	if r == nil {
		r = Discard
	}
	input, err := json.Marshal(a)
	if err != nil {
		return Failed("encode assignment: " + err.Error())
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	if s.Dir != "" {
		cmd.Dir = s.Dir
	}
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env,
		"ARMADA_PROJECT="+a.Project,
		"ARMADA_STORY_ID="+a.Story.ID,
		"ARMADA_AGENT_ID="+a.AgentID,
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// exec copies stderr into pw; Wait bounds that copy by WaitDelay once the
	// process has exited, even if a grandchild still holds the pipe.
	pr, pw := io.Pipe()
	cmd.Stderr = pw
	cmd.WaitDelay = s.waitDelay()

	if err := cmd.Start(); err != nil {
		pw.Close()
		return Failed(fmt.Sprintf("start %s: %v", s.Command, err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relayMessages(pr, r)
	}()
	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Exited cleanly; only a leftover descendant kept stderr open.
		waitErr = nil
	}
	pw.Close()
	wg.Wait()

	if ctx.Err() != nil {
		return Failed("cancelled: " + ctx.Err().Error())
	}

	var res Result
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, &res); err != nil {
			if waitErr != nil {
				return Failed(fmt.Sprintf("%s exited: %v", s.Command, waitErr))
			}
			return Failed("decode result: " + err.Error())
		}
	}
	if waitErr != nil {
		reason := res.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s exited: %v", s.Command, waitErr)
		}
		return Failed(reason)
	}
	if !res.Success && res.Reason == "" {
		res.Reason = "agent reported no success"
	}
	return res
}

// maxMessageLine is the longest stderr line relayed as a message.
const maxMessageLine = 1024 * 1024

// relayMessages reports stderr lines until EOF. It always drains rd so the
// writer never blocks, even after an oversized line stops the scanner.
func relayMessages(rd io.Reader, r Reporter) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg stderrLine
		if strings.HasPrefix(line, "{") && json.Unmarshal([]byte(line), &msg) == nil && msg.Content != "" {
			if !msg.Type.Valid() {
				msg.Type = models.MessageThinking
			}
			r.Report(msg.Type, msg.Content, msg.Tool)
			continue
		}
		r.Report(models.MessageThinking, line, "")
	}
	if err := scanner.Err(); err != nil {
		r.Report(models.MessageError, "agent output dropped: "+err.Error(), "")
		_, _ = io.Copy(io.Discard, rd)
	}
}
