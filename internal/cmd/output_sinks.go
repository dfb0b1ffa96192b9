package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadgate/threadgate/internal/output"
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", "table", "output format: table, json, yaml")
	cmd.Flags().String("out", "", "write output to a file instead of stdout")
}

// destination is stdout for "" or "-", otherwise a file created with its
// parent directories.
func destination(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	// #nosec G301 -- report directories use 0755 like the data directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return os.Create(filepath.Clean(path))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// render formats with the command's --output-format and writes to --out.
func render(cmd *cobra.Command, fn func(output.Formatter) (string, error)) error {
	name, _ := cmd.Flags().GetString("output-format")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}
	text, err := fn(output.NewFormatter(format))
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("out")
	w, err := destination(cmd, path)
	if err != nil {
		return err
	}
	_, writeErr := fmt.Fprintln(w, strings.TrimRight(text, "\n"))
	closeErr := w.Close()
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}
