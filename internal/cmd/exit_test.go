package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errwrap "github.com/quillpress/quillpress/internal/errors"
)

func TestWriteFatalIncludesEnvelopeAndCause(t *testing.T) {
	cause := stderrors.New("dial tcp 127.0.0.1:6379: connection refused")
	envelope := errwrap.WrapDatabaseError(context.Background(), cause, "store ping failed")

	var buf bytes.Buffer
	writeFatal(&buf, exitInfo(foundry.ExitExternalServiceUnavailable), "Rate limit store unreachable", envelope)

	out := buf.String()
	assert.Contains(t, out, "FATAL: Rate limit store unreachable [")
	assert.Contains(t, out, "store ping failed")
	assert.Contains(t, out, "Cause: dial tcp")
	assert.Contains(t, out, "Exit Code: ")
}

func TestWriteFatalPlainError(t *testing.T) {
	var buf bytes.Buffer
	writeFatal(&buf, exitInfo(foundry.ExitFailure), "Command execution failed", stderrors.New("bad flag"))

	assert.Contains(t, buf.String(), "FATAL: Command execution failed: bad flag\n")
}

func TestExitWithCodeStderrUsesCatalogCode(t *testing.T) {
	var code int
	previous := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = previous })

	ExitWithCodeStderr(foundry.ExitConfigInvalid, "Configuration invalid", nil)

	require.Equal(t, exitInfo(foundry.ExitConfigInvalid).Code, code)
	require.NotZero(t, code)
}
