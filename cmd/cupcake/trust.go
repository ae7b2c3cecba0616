package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eqtylab/cupcake-go/internal/trust"
)

// newTrustCmd wires up `cupcake trust {init|update|verify|list|enable|
// disable|reset}` directly against internal/trust's free functions —
// the CLI here is a thin formatter over that package's operations, not
// a second copy of its logic.
func newTrustCmd(projectDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage the project's script-trust manifest",
	}

	var empty bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a trust manifest binding every configured signal/action script",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := trust.Init(*projectDir, empty)
			if err != nil {
				return err
			}
			fmt.Printf("initialized trust manifest: %d script(s) bound\n", count)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&empty, "empty", false, "Create an empty manifest without scanning for scripts")

	var dryRun, autoYes bool
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Rebind the manifest to the project's current script state",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadManifestOrFail(*projectDir)
			if err != nil {
				return err
			}
			cs, current, err := trust.Diff(manifest, *projectDir)
			if err != nil {
				return err
			}
			if cs.IsEmpty() {
				fmt.Println("no changes detected")
				return nil
			}
			printChangeSet(cs)

			if dryRun {
				fmt.Println("dry run: no changes made")
				return nil
			}

			// spec.md §4.9: rewrite only if changes exist and the user
			// confirms (or --yes was passed) — a trust manifest rewrite
			// silently re-binds to whatever hash is currently on disk, so
			// an unreviewed update can rubber-stamp a tampered script.
			if !autoYes && !confirm("update trust manifest?") {
				fmt.Println("trust update cancelled")
				return nil
			}
			if err := trust.Update(*projectDir, current); err != nil {
				return err
			}
			fmt.Println("trust manifest updated")
			return nil
		},
	}
	updateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the diff but don't update the manifest")
	updateCmd.Flags().BoolVar(&autoYes, "yes", false, "Update without prompting for confirmation")

	var verbose bool
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every bound script against its current content",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadManifestOrFail(*projectDir)
			if err != nil {
				return err
			}
			results := trust.Verify(manifest, *projectDir)
			failed := 0
			for _, r := range results {
				switch r.Status {
				case trust.VerifyPassed:
					if verbose {
						fmt.Printf("  ✓ %s/%s\n", r.Category, r.Name)
					}
				default:
					failed++
					fmt.Printf("  ✗ %s/%s: %s\n", r.Category, r.Name, r.Status)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d script(s) failed verification", failed)
			}
			fmt.Printf("%d script(s) verified\n", len(results))
			return nil
		},
	}
	verifyCmd.Flags().BoolVar(&verbose, "verbose", false, "List every passing script, not just failures")

	var showModified, showHashes bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every script bound in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadManifestOrFail(*projectDir)
			if err != nil {
				return err
			}

			var results []trust.VerifyResult
			if showModified {
				results = trust.Verify(manifest, *projectDir)
			}

			for _, category := range manifest.Categories() {
				fmt.Printf("%s:\n", category)
				for _, name := range manifest.ScriptsIn(category) {
					entry, _ := manifest.GetScript(category, name)
					if showModified && statusFor(results, category, name) != trust.VerifyModified {
						continue
					}
					line := fmt.Sprintf("  %-30s %s", name, entry.Command)
					if showHashes {
						line += fmt.Sprintf(" [%s]", entry.Hash)
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&showModified, "modified", false, "Show only scripts whose content has drifted")
	listCmd.Flags().BoolVar(&showHashes, "hashes", false, "Show each script's bound hash")

	var verifyBeforeEnable bool
	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enforce trust verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verifyBeforeEnable {
				manifest, err := loadManifestOrFail(*projectDir)
				if err != nil {
					return err
				}
				// spec.md §4.9: "enable --verify refuses if any script has
				// drifted" — without this check, flipping the mode on is
				// the first time a drifted script gets caught, silently
				// masking drift that existed before enable ran.
				results := trust.Verify(manifest, *projectDir)
				var drifted []string
				for _, r := range results {
					if r.Status != trust.VerifyPassed {
						drifted = append(drifted, fmt.Sprintf("%s/%s: %s", r.Category, r.Name, r.Status))
					}
				}
				if len(drifted) > 0 {
					fmt.Println("cannot enable: the following scripts have drifted from the trust manifest:")
					for _, d := range drifted {
						fmt.Printf("  - %s\n", d)
					}
					return fmt.Errorf("%d script(s) failed verification; run 'cupcake trust update' or enable without --verify", len(drifted))
				}
				fmt.Println("all scripts verified")
			}
			return setTrustMode(*projectDir, trust.ModeEnabled)
		},
	}
	enableCmd.Flags().BoolVar(&verifyBeforeEnable, "verify", false, "Refuse to enable if any script has drifted")

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable trust verification (scripts run unchecked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTrustMode(*projectDir, trust.ModeDisabled)
		},
	}

	var force bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the trust manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !confirm("this deletes the trust manifest and disables integrity verification; continue?") {
				fmt.Println("cancelled")
				return nil
			}
			if err := trust.Reset(*projectDir); err != nil {
				return err
			}
			fmt.Println("trust manifest removed")
			return nil
		},
	}
	resetCmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	cmd.AddCommand(initCmd, updateCmd, verifyCmd, listCmd, enableCmd, disableCmd, resetCmd)
	return cmd
}

// confirm prompts the user with a y/N question on stdin, returning true
// only for an explicit "y"/"yes" answer.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// statusFor looks up a single script's verify status out of a
// Verify() result slice, defaulting to passed if the script has no
// result there (only called when --modified filtering is on).
func statusFor(results []trust.VerifyResult, category, name string) trust.VerifyStatus {
	for _, r := range results {
		if r.Category == category && r.Name == name {
			return r.Status
		}
	}
	return trust.VerifyPassed
}

func loadManifestOrFail(projectDir string) (*trust.Manifest, error) {
	manifest, err := trust.LoadOrNil(projectDir)
	if err != nil {
		return nil, fmt.Errorf("loading trust manifest: %w", err)
	}
	if manifest == nil {
		return nil, fmt.Errorf("no trust manifest found; run 'cupcake trust init' first")
	}
	return manifest, nil
}

func setTrustMode(projectDir string, mode trust.Mode) error {
	manifest, err := loadManifestOrFail(projectDir)
	if err != nil {
		return err
	}
	manifest.SetMode(mode)
	trustFile := filepath.Join(projectDir, ".cupcake", ".trust")
	if err := manifest.Save(trustFile); err != nil {
		return err
	}
	fmt.Printf("trust verification %s\n", mode)
	return nil
}

func printChangeSet(cs trust.ChangeSet) {
	for _, a := range cs.Added {
		fmt.Fprintf(os.Stdout, "  + %s\n", a)
	}
	for _, m := range cs.Modified {
		fmt.Fprintf(os.Stdout, "  ~ %s\n", m)
	}
	for _, r := range cs.Removed {
		fmt.Fprintf(os.Stdout, "  - %s\n", r)
	}
}
