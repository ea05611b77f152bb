package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// ErrNotConfirmed is returned when a destructive command was not approved.
var ErrNotConfirmed = errors.New("operation not confirmed")

// DefaultForceCountdown is the grace period before a forced destructive command runs.
const DefaultForceCountdown = 3 * time.Second

// Approver confirms destructive operations on a named target.
//
// Implementations:
//   - ForcedApprover: warns, counts down and approves (--force)
//   - InteractiveApprover: asks the operator to type the target name
type Approver interface {
	RequestApproval(ctx context.Context, action, target string) (bool, error)
}

// ForcedApprover approves after a cancelable countdown.
type ForcedApprover struct {
	output    io.Writer
	countdown time.Duration
	sleepFn   func(time.Duration)
}

// NewForcedApprover creates a ForcedApprover writing to stderr.
func NewForcedApprover(countdown time.Duration) *ForcedApprover {
	return &ForcedApprover{output: os.Stderr, countdown: countdown, sleepFn: time.Sleep}
}

// RequestApproval warns about the operation and approves once the countdown ends.
func (a *ForcedApprover) RequestApproval(ctx context.Context, action, target string) (bool, error) {
	_, _ = fmt.Fprintf(a.output, "WARNING: about to %s '%s' (--force)\n", action, target)

	for i := int(a.countdown.Seconds()); i > 0; i-- {
		if err := ctx.Err(); err != nil {
			_, _ = fmt.Fprintln(a.output)
			return false, err
		}
		_, _ = fmt.Fprintf(a.output, "\rProceeding in %d seconds... (Ctrl+C to cancel)", i)
		a.sleepFn(time.Second)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, _ = fmt.Fprintf(a.output, "\rProceeding to %s '%s'.                         \n", action, target)
	return true, nil
}

// InteractiveApprover asks for the target name on a terminal.
type InteractiveApprover struct {
	input      io.Reader
	output     io.Writer
	isTerminal func() bool
}

// NewInteractiveApprover creates an InteractiveApprover on stdin and stderr.
func NewInteractiveApprover() *InteractiveApprover {
	return &InteractiveApprover{
		input:  os.Stdin,
		output: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}
}

// RequestApproval prompts for the target name. Without a terminal it fails
// with ErrNotConfirmed so scripts must pass --force explicitly.
func (a *InteractiveApprover) RequestApproval(ctx context.Context, action, target string) (bool, error) {
	if !a.isTerminal() {
		return false, fmt.Errorf("%w: stdin is not a terminal, use --force", ErrNotConfirmed)
	}

	_, _ = fmt.Fprintf(a.output, "\nWARNING: You are about to %s '%s'. This cannot be undone.\n", action, target)
	_, _ = fmt.Fprintf(a.output, "To confirm, type '%s' and press Enter: ", target)

	inputChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(a.input).ReadString('\n')
		if err != nil && line == "" {
			errChan <- err
			return
		}
		inputChan <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errChan:
		return false, fmt.Errorf("failed to read input: %w", err)
	case input := <-inputChan:
		if input == target {
			return true, nil
		}
		_, _ = fmt.Fprintf(a.output, "Input '%s' does not match '%s'. Operation cancelled.\n", input, target)
		return false, nil
	}
}

// confirm runs approver and maps a refusal to ErrNotConfirmed.
func confirm(ctx context.Context, approver Approver, action, target string) error {
	ok, err := approver.RequestApproval(ctx, action, target)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}
