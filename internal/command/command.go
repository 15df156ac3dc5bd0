// Package command runs external tools in their own process group so that a
// cancelled context terminates the whole subprocess tree.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Error wraps a failed invocation together with its combined output.
type Error struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v\n%s", e.Name, strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Run starts cmd, waits for it, and returns its combined stdout and stderr.
// When ctx is done first the process group is killed and ctx.Err() returned.
func Run(ctx context.Context, cmd *exec.Cmd) ([]byte, error) {
	setProcessGroup(cmd)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return output.Bytes(), newError(cmd, output.String(), err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return output.Bytes(), ctx.Err()
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return output.Bytes(), ctxErr
			}
			return output.Bytes(), newError(cmd, output.String(), err)
		}
	}

	return output.Bytes(), nil
}

func newError(cmd *exec.Cmd, output string, err error) *Error {
	var args []string
	if len(cmd.Args) > 1 {
		args = cmd.Args[1:]
	}
	return &Error{Name: cmd.Path, Args: args, Output: output, Err: err}
}
