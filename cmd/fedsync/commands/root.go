package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/comalice/fedsync/internal/log"
)

var ErrLogHandlerFailed = errors.New("log handler failed")

// RootArgs holds the persistent flags.
type RootArgs struct {
	logLevel  *string
	logFormat *string
}

func NewRootArgs() *RootArgs {
	return &RootArgs{
		logLevel:  new(string),
		logFormat: new(string),
	}
}

func (a *RootArgs) GetLogLevel() string  { return *a.logLevel }
func (a *RootArgs) GetLogFormat() string { return *a.logFormat }

// NewRootCmd returns the fedsync command with every subcommand attached.
func NewRootCmd(name, shortDesc, longDesc string) *cobra.Command {
	args := NewRootArgs()

	cmd := &cobra.Command{
		Use:           name,
		Short:         shortDesc,
		Long:          longDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       GetVersionString(),
	}

	cmd.PersistentFlags().StringVar(args.logLevel, "log-level", "info", "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(args.logFormat, "log-format", "", "Set the log format (text, json); defaults to text on a terminal")

	cmd.PersistentPreRunE = func(cc *cobra.Command, _ []string) error {
		format, err := log.ParseFormat(args.GetLogFormat())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLogHandlerFailed, err)
		}
		slog.SetDefault(slog.New(log.CreateHandler(cc.ErrOrStderr(), args.GetLogLevel(), format)))
		slog.Debug("ready to go")
		return nil
	}

	cmd.AddCommand(
		NewRunCmd(),
		NewValidateCmd(),
		NewReportCmd(),
		NewVersionCmd(),
	)
	return cmd
}
