package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/output"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

var formatExtensions = map[output.Format]string{
	output.FormatJSON:     "json",
	output.FormatMarkdown: "md",
	output.FormatTable:    "txt",
}

// sanitizeFilename lowercases value and collapses anything outside
// [a-z0-9._-] into dashes.
func sanitizeFilename(value string) string {
	clean := unsafeFilenameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	if clean = strings.Trim(clean, "-."); clean == "" {
		return "output"
	}
	return clean
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to <dir>/<command>.<ext>")
	cmd.MarkFlagsMutuallyExclusive("out", "out-dir")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// outputPath resolves --out or --out-dir to a file path. Empty or "-" means
// the command's stdout.
func outputPath(cmd *cobra.Command, name string, format output.Format) (string, error) {
	out, _ := cmd.Flags().GetString("out")
	dir, _ := cmd.Flags().GetString("out-dir")
	out, dir = strings.TrimSpace(out), strings.TrimSpace(dir)

	if dir == "" {
		return out, nil
	}
	ext, ok := formatExtensions[format]
	if !ok {
		ext = "txt"
	}
	return filepath.Join(dir, sanitizeFilename(name)+"."+ext), nil
}

// writeFileAtomic writes through a temp file in the target directory so a
// failed render never leaves a truncated report behind.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// writeOutput renders through the formatter selected by --output-format and
// writes to --out, <out-dir>/<name>.<ext> or stdout.
func writeOutput(cmd *cobra.Command, name string, render func(output.Formatter) (string, error)) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	path, err := outputPath(cmd, name, format)
	if err != nil {
		return err
	}

	rendered, err := render(output.NewFormatter(format))
	if err != nil {
		return err
	}
	emit := func(w io.Writer) error {
		_, err := fmt.Fprintln(w, strings.TrimRight(rendered, "\n"))
		return err
	}

	if path == "" || path == "-" {
		return emit(cmd.OutOrStdout())
	}
	return writeFileAtomic(path, emit)
}
