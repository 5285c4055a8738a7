package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolmount/bootstrap"
	"github.com/petal-labs/toolmount/observer"
)

// NewMountCmd creates the "mount" subcommand.
func NewMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <page.html>",
		Short: "Bootstrap every tool root of a page and print the mounted HTML",
		Args:  cobra.ExactArgs(1),
		RunE:  runMount,
	}

	addRuntimeFlags(cmd)
	cmd.Flags().Bool("diagnostics", false, "Print diagnostics and the observability snapshot as JSON to stderr")

	return cmd
}

// mountReport is the --diagnostics output.
type mountReport struct {
	Results     []bootstrap.Result    `json:"results"`
	Diagnostics bootstrap.Diagnostics `json:"diagnostics"`
	Snapshot    observer.Snapshot     `json:"snapshot"`
}

func runMount(cmd *cobra.Command, args []string) error {
	showDiagnostics, _ := cmd.Flags().GetBool("diagnostics")

	doc, err := loadPage(args[0])
	if err != nil {
		return err
	}
	s, err := buildStack(cmd, doc)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	results, mountErr := s.runtime.BootstrapAll(cmd.Context())

	if err := doc.Render(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if showDiagnostics {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		enc.SetIndent("", "  ")
		if err := enc.Encode(mountReport{
			Results:     results,
			Diagnostics: s.runtime.Diagnostics(),
			Snapshot:    s.runtime.ObservabilitySnapshot(),
		}); err != nil {
			return fmt.Errorf("writing diagnostics: %w", err)
		}
	}

	if mountErr != nil {
		if errors.Is(mountErr, bootstrap.ErrStrictMode) {
			return exitError(exitValidation, "strict mode: %v", mountErr)
		}
		return exitError(exitRuntime, "mount failed: %v", mountErr)
	}
	return nil
}
