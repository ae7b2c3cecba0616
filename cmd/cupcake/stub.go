package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInitCmd and newCatalogCmd scaffold the CLI surface spec.md names
// but explicitly excludes from core scope: the TUI wizard that
// scaffolds policies (init) and the catalog subsystem's download/
// install/lint/package operations. Both are present here only so the
// documented subcommand tree resolves; a real implementation of either
// is a separate project built against internal/catalog's contract.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new project's .cupcake/ directory (not implemented in this core)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("init is not implemented in the core engine; see internal/catalog for the bundle contract a scaffolding tool would build against")
		},
	}
}

func newCatalogCmd() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage third-party rulebook bundles (not implemented in this core)",
	}
	for _, name := range []string{"repo", "search", "show", "install", "list", "upgrade", "uninstall", "lint", "package"} {
		sub := &cobra.Command{
			Use: name,
			RunE: func(cmd *cobra.Command, args []string) error {
				return fmt.Errorf("catalog %s is not implemented in the core engine; see internal/catalog for the bundle contract", cmd.Name())
			},
		}
		catalogCmd.AddCommand(sub)
	}
	return catalogCmd
}
