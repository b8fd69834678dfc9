package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render [template...]",
	Short: "Render templates once and exit",
	Long: `Renders the named templates, or every template when none are named, and
waits for the results. Exits non-zero if any render failed.`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	if _, err := s.reg.ResetAll(); err != nil {
		s.printer.Error(err.Error())
		return errors.Join(err, s.close())
	}
	paths := make([]string, 0, len(args))
	for _, a := range args {
		paths = append(paths, templatePath(a))
	}
	enqueueErr := s.orch.RenderNow(paths...)
	if enqueueErr != nil {
		s.printer.Error(enqueueErr.Error())
	}
	waitErr := s.q.WaitIdle(cmd.Context())
	closeErr := s.close()
	s.summarize()

	if err := errors.Join(waitErr, closeErr); err != nil {
		return err
	}
	if failed := len(s.failures()); failed > 0 {
		return fmt.Errorf("%d template(s) failed", failed)
	}
	return enqueueErr
}

// templatePath resolves a template argument against the working directory,
// following symlinks where possible.
func templatePath(arg string) string {
	p, err := filepath.Abs(arg)
	if err != nil {
		return arg
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}
