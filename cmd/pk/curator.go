package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/placekeep/placekeep/internal/record"
	"github.com/placekeep/placekeep/internal/ui"
)

var curatorCmd = &cobra.Command{
	Use:     "curator",
	GroupID: "data",
	Short:   "Manage curator identities",
	Long: `Manage curator identities in the local store.

Curators are local identity bookkeeping: they attribute entities and
curations but are not pushed to the remote.`,
}

var curatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List curators",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		_, _, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		curators, err := st.ListCurators(ctx)
		if err != nil {
			fatalf("failed to list curators: %v", err)
		}
		if len(curators) == 0 {
			fmt.Println("No curators yet (run 'pk curator add <name>')")
			return
		}

		currentID := ""
		if cur, err := st.CurrentCurator(ctx); err == nil {
			currentID = cur.ID
		} else if !errors.Is(err, record.ErrNotFound) {
			fatalf("failed to read current curator: %v", err)
		}

		for _, c := range curators {
			marker := " "
			if c.ID == currentID {
				marker = ui.RenderPass("*")
			}
			line := fmt.Sprintf("%s %s  %s", marker, c.ID, c.Name)
			if c.Email != "" {
				line += "  " + ui.RenderDim("<"+c.Email+">")
			}
			if c.Status == record.CuratorInactive {
				line += "  " + ui.RenderWarn("(inactive)")
			}
			fmt.Println(line)
		}
	},
}

var curatorAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a curator",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		email, _ := cmd.Flags().GetString("email")
		use, _ := cmd.Flags().GetBool("use")

		_, _, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		c, err := st.CreateCurator(ctx, &record.Curator{
			Name:  args[0],
			Email: email,
		})
		if err != nil {
			fatalf("failed to add curator: %v", err)
		}
		fmt.Printf("%s Added curator %s (%s)\n", ui.RenderPass("✓"), c.Name, c.ID)

		if use {
			if err := st.SetCurrentCurator(ctx, c.ID); err != nil {
				fatalf("failed to select curator: %v", err)
			}
			fmt.Printf("%s Now curating as %s\n", ui.RenderPass("✓"), c.Name)
		}
	},
}

var curatorUseCmd = &cobra.Command{
	Use:   "use <curator-id>",
	Short: "Switch the current curator",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		_, _, st, err := openEnv()
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		if err := st.SetCurrentCurator(ctx, args[0]); err != nil {
			fatalf("failed to switch curator: %v", err)
		}
		c, err := st.GetCurator(ctx, args[0])
		if err != nil {
			fatalf("failed to read curator: %v", err)
		}
		fmt.Printf("%s Now curating as %s (%s)\n", ui.RenderPass("✓"), c.Name, c.ID)
	},
}

func init() {
	curatorAddCmd.Flags().String("email", "", "Curator email")
	curatorAddCmd.Flags().Bool("use", false, "Also make this the current curator")

	curatorCmd.AddCommand(curatorListCmd)
	curatorCmd.AddCommand(curatorAddCmd)
	curatorCmd.AddCommand(curatorUseCmd)
	rootCmd.AddCommand(curatorCmd)
}
