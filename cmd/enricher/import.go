package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdziat/recipe-enricher/pkg/core"
	"github.com/jdziat/recipe-enricher/pkg/recipe"
)

var (
	importUser      string
	importHousehold string
	importRecipe    string
	importText      bool
)

var importCmd = &cobra.Command{
	Use:   "import <url | file>",
	Short: "Queue an import for a user",
	Long: `Queue an import the same way the API does. The argument is a URL, or with
--text a file whose contents are imported as pasted text ("-" reads stdin).
A running worker picks the job up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(importUser) == "" {
			return fmt.Errorf("--user is required")
		}
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		scope := recipe.Context{UserID: importUser, HouseholdKey: importHousehold, RecipeID: importRecipe}
		var res core.EnqueueResult
		if importText {
			text, err := readSource(args[0])
			if err != nil {
				return err
			}
			res, err = a.Enricher.TriggerImportPaste(cmd.Context(), scope, text)
			if err != nil {
				return err
			}
		} else {
			res, err = a.Enricher.TriggerImportURL(cmd.Context(), scope, args[0])
			if err != nil {
				return err
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	importCmd.Flags().StringVar(&importUser, "user", "", "owning user ID")
	importCmd.Flags().StringVar(&importHousehold, "household", "", "household key")
	importCmd.Flags().StringVar(&importRecipe, "recipe", "", "re-import into this existing recipe")
	importCmd.Flags().BoolVar(&importText, "text", false, "treat the argument as a file of pasted text")
}

func readSource(arg string) (string, error) {
	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", arg, err)
	}
	return string(b), nil
}
