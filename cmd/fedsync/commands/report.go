package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
	"github.com/comalice/fedsync/internal/production"
)

// Report output formats.
const (
	ReportText = "text"
	ReportDOT  = "dot"
	ReportJSON = "json"
)

func writeReport(w io.Writer, format string, s core.Snapshot, threads production.ThreadView) error {
	v := &production.DefaultVisualizer{}
	switch format {
	case ReportText:
		_, err := fmt.Fprintf(w, "# %s\n%s\n", s.Federate, v.ExportText(s, threads))
		return err
	case ReportDOT:
		_, err := io.WriteString(w, v.ExportDOT(s, threads))
		return err
	case ReportJSON:
		data, err := v.ExportJSON(s)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	return fmt.Errorf("unknown report format %q: %w", format, primitives.ErrConfig)
}

func checkReportFormat(format string) error {
	switch format {
	case "", ReportText, ReportDOT, ReportJSON:
		return nil
	}
	return fmt.Errorf("unknown report format %q (text, dot, json): %w", format, primitives.ErrConfig)
}

// NewReportCmd returns the report command, which renders saved checkpoints.
func NewReportCmd() *cobra.Command {
	var dir, storage, format string

	cmd := &cobra.Command{
		Use:   "report FEDERATE...",
		Short: "Render the checkpoints of federates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cc *cobra.Command, names []string) error {
			if err := checkReportFormat(format); err != nil {
				return err
			}
			persister, err := production.NewPersister(primitives.CheckpointConfig{Dir: dir, Format: storage})
			if err != nil {
				return err
			}
			if persister == nil {
				return fmt.Errorf("--dir is required: %w", primitives.ErrConfig)
			}
			for _, name := range names {
				s, err := persister.Load(cc.Context(), name)
				if err != nil {
					return err
				}
				if err := writeReport(cc.OutOrStdout(), format, s, nil); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Checkpoint directory")
	cmd.Flags().StringVar(&storage, "storage", "", "Checkpoint file format (json, yaml)")
	cmd.Flags().StringVarP(&format, "output", "o", ReportText, "Report format (text, dot, json)")
	if err := cmd.MarkFlagDirname("dir"); err != nil {
		panic(err)
	}
	return cmd
}
