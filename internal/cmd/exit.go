package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// osExit is swapped out in tests.
var osExit = os.Exit

type exitMeta struct {
	Code        int
	Name        string
	Description string
	Category    string
}

// exitInfo resolves code against the foundry catalog. Unknown codes still
// exit with their numeric value.
func exitInfo(code foundry.ExitCode) exitMeta {
	info, ok := foundry.GetExitCodeInfo(code)
	if !ok {
		return exitMeta{Code: int(code), Name: "UNKNOWN", Description: "unregistered exit code"}
	}
	return exitMeta{Code: info.Code, Name: info.Name, Description: info.Description, Category: info.Category}
}

// unwrapEnvelope returns the envelope carried by err, if any, and the error
// that should be logged in its place.
func unwrapEnvelope(err error) (*errors.ErrorEnvelope, error) {
	var envelope *errors.ErrorEnvelope
	if !stderrors.As(err, &envelope) {
		return nil, err
	}
	if original, ok := envelope.Original.(error); ok && original != nil {
		return envelope, original
	}
	return envelope, err
}

// ExitWithCode logs msg with foundry exit metadata and terminates the
// process. A nil logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info := exitInfo(exitCode)
	if logger == nil {
		writeFatal(os.Stderr, info, msg, err)
		osExit(info.Code)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_description", info.Description),
		zap.String("exit_category", info.Category),
	}
	envelope, cause := unwrapEnvelope(err)
	if envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if len(envelope.Context) > 0 {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	logger.Error(msg, fields...)

	osExit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before a logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info := exitInfo(exitCode)
	writeFatal(os.Stderr, info, msg, err)
	osExit(info.Code)
}

func writeFatal(w io.Writer, info exitMeta, msg string, err error) {
	envelope, _ := unwrapEnvelope(err)
	switch {
	case envelope != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if original, ok := envelope.Original.(error); ok && original != nil {
			_, _ = fmt.Fprintf(w, "Cause: %v\n", original)
		} else if wrapped, ok := envelope.Context["wrapped_error"]; ok {
			_, _ = fmt.Fprintf(w, "Cause: %v\n", wrapped)
		}
	case err != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	default:
		_, _ = fmt.Fprintf(w, "FATAL: %s\n", msg)
	}
	_, _ = fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
}
