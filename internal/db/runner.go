package db

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	apperrors "github.com/arlberg/backstop/internal/errors"
)

// runCommand executes a native dump/restore tool, streaming stdout into w and
// stdin from r (either may be nil). Stderr is captured into the error.
func runCommand(ctx context.Context, name string, args []string, r io.Reader, w io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if r != nil {
		cmd.Stdin = r
	}
	if w != nil {
		cmd.Stdout = w
	}

	if err := cmd.Run(); err != nil {
		if isNotFound(err) {
			return apperrors.New(apperrors.TypeConfig,
				fmt.Sprintf("%s not found", name),
				fmt.Sprintf("Install the client tools that provide %s to back up this engine.", name))
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return apperrors.Wrap(err, apperrors.TypeIO, fmt.Sprintf("%s failed: %s", name, msg), "")
	}
	return nil
}

func isNotFound(err error) bool {
	if execErr, ok := err.(*exec.Error); ok {
		return execErr.Err == exec.ErrNotFound
	}
	return strings.Contains(err.Error(), "executable file not found")
}
