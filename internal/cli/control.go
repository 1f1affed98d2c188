package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexjbarnes/gallery-sync/internal/client"
)

// controlCmd builds a command that posts one control request.
func controlCmd(o *options, name, short string, call func(*client.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, c, _, err := o.connect(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if err := call(c, cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "ok")

			return nil
		},
	}
}
