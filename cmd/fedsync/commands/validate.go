package commands

import (
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/comalice/fedsync"
)

// NewValidateCmd returns the validate command.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check federation files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cc *cobra.Command, files []string) error {
			var result *multierror.Error
			for _, path := range files {
				cfg, err := fedsync.LoadFederationConfig(path)
				if err != nil {
					result = multierror.Append(result, err)
					continue
				}
				cc.Printf("%s: federation %q with %d federates is valid\n", path, cfg.Name, len(cfg.Federates))
			}
			return result.ErrorOrNil()
		},
	}
}
