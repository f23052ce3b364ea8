package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
)

var componentsCategory string

// componentListing is the JSON shape one registered type prints as.
type componentListing struct {
	Type      string `json:"type"`
	Category  string `json:"category,omitempty"`
	SizeClass string `json:"sizeClass,omitempty"`
	Status    string `json:"status,omitempty"`
	Version   string `json:"version,omitempty"`
}

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "List registered component types",
	Long: `List the component types the runtime can render, with their
registry metadata, as JSON.

Use --category to filter by registry category.

Examples:
  # List all registered components
  exepad components

  # Only layout components
  exepad components --category layout

  # Parse specific fields with jq
  exepad components | jq '.[].type'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := registry.New()
		reg.RegisterPaths(render.BuiltinLoaders())

		var types []string
		if cmd.Flags().Changed("category") {
			types = reg.ListByCategory(componentsCategory)
		} else {
			types = reg.Types()
		}

		listings := make([]componentListing, 0, len(types))
		for _, typeName := range types {
			meta, _ := reg.Meta(typeName)
			listings = append(listings, componentListing{
				Type:      typeName,
				Category:  meta.Category,
				SizeClass: meta.SizeClass,
				Status:    string(meta.Status),
				Version:   meta.Version,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	},
}

func init() {
	componentsCmd.Flags().StringVarP(&componentsCategory, "category", "C", "",
		"Filter by registry category (e.g., layout)")
	rootCmd.AddCommand(componentsCmd)
}
