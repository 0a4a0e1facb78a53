package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tether/internal/activity"
)

const (
	maxLineSize     = 16 * 1024 * 1024
	eventBufferSize = 64
)

// Stream wraps a Process speaking the stream-json protocol. Events are
// delivered in output order; the channel closes when the process exits.
type Stream struct {
	proc   Process
	events chan activity.Event

	writeMu sync.Mutex
	done    chan struct{}
	err     error

	interrupted atomic.Bool
}

// NewStream starts reading proc's output.
func NewStream(proc Process) *Stream {
	s := &Stream{
		proc:   proc,
		events: make(chan activity.Event, eventBufferSize),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

func (s *Stream) read() {
	// done closes before events so Err is final once the channel drains.
	defer close(s.events)
	defer close(s.done)

	scanner := bufio.NewScanner(s.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 256*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := activity.ParseEvent(line)
		if err != nil {
			log.Debug().Err(err).Msg("agent.Stream: skipping unparseable line")
			continue
		}
		s.events <- ev
	}
	scanErr := scanner.Err()

	waitErr := s.proc.Wait()
	switch {
	case waitErr != nil:
		s.err = waitErr
	case scanErr != nil:
		s.err = fmt.Errorf("agent.Stream: read: %w", scanErr)
	}
}

// Events returns the event channel. It must be drained until closed.
func (s *Stream) Events() <-chan activity.Event {
	return s.events
}

// Done is closed after the process exited and Err is final.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the process exit error once Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// Send writes a user prompt.
func (s *Stream) Send(prompt string) error {
	msg := userMessage{Type: "user"}
	msg.Message.Role = "user"
	msg.Message.Content = prompt

	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("agent.Stream.Send: %w", err)
	}
	return nil
}

// PermissionResult is the body of a can_use_tool answer.
type PermissionResult struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
}

type controlResponse struct {
	Type     string `json:"type"`
	Response struct {
		Subtype   string           `json:"subtype"`
		RequestID string           `json:"request_id"`
		Response  PermissionResult `json:"response"`
	} `json:"response"`
}

// Respond answers a control request.
func (s *Stream) Respond(requestID string, result PermissionResult) error {
	resp := controlResponse{Type: "control_response"}
	resp.Response.Subtype = "success"
	resp.Response.RequestID = requestID
	resp.Response.Response = result

	if err := s.writeJSON(resp); err != nil {
		return fmt.Errorf("agent.Stream.Respond(%s): %w", requestID, err)
	}
	return nil
}

// Allow permits a tool call, echoing input back as the CLI requires.
func (s *Stream) Allow(requestID string, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return s.Respond(requestID, PermissionResult{Behavior: "allow", UpdatedInput: input})
}

// Deny refuses a tool call with a message the agent sees.
func (s *Stream) Deny(requestID, message string) error {
	return s.Respond(requestID, PermissionResult{Behavior: "deny", Message: message})
}

func (s *Stream) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrNoSession
	default:
	}

	_, err = s.proc.Stdin().Write(data)
	return err
}

// CloseInput signals that no further prompts follow, letting the CLI exit
// after its current turn.
func (s *Stream) CloseInput() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.proc.Stdin().Close(); err != nil {
		return fmt.Errorf("agent.Stream.CloseInput: %w", err)
	}
	return nil
}

// Interrupt stops the process.
func (s *Stream) Interrupt(ctx context.Context) error {
	s.interrupted.Store(true)
	if err := s.proc.Interrupt(ctx); err != nil {
		return fmt.Errorf("agent.Stream.Interrupt: %w", err)
	}
	return nil
}

// Interrupted reports whether Interrupt was called.
func (s *Stream) Interrupted() bool {
	return s.interrupted.Load()
}

// ExitCode returns the exit code carried by err, if err is a non-zero
// process exit.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	return exitErr.Code, true
}
