package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print this instance's id",
	Long: `Print the id this instance uses as lock owner.

The id comes from $CLAUDE_INSTANCE_ID when set, otherwise from the
identity cache of the current worktree. A new id is generated and cached
on first use unless --lookup is given.`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

func init() {
	identityCmd.Flags().Bool("lookup", false, "only print an existing id, never generate one")
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, _ []string) error {
	c, err := openCoordinator(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if lookup, _ := cmd.Flags().GetBool("lookup"); lookup {
		id, ok := c.Identity().Lookup()
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "no identity resolved yet")
			return nil
		}
		fmt.Fprintln(out, id)
		return nil
	}

	fmt.Fprintln(out, c.InstanceID())
	if viper.GetBool("verbose") {
		fmt.Fprintf(cmd.ErrOrStderr(), "cache: %s\n", c.Identity().CachePath())
	}
	return nil
}
