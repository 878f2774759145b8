package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"groundlink/internal/link"
)

var portsJSON bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List connection candidates",
	Long:  "ports lists the default network locators and every serial port found on this machine.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cands, err := link.Candidates(nil)
		if err != nil {
			// The network defaults are still worth printing.
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		return printCandidates(cmd.OutOrStdout(), cands, portsJSON)
	},
}

func init() {
	portsCmd.Flags().BoolVar(&portsJSON, "json", false, "Print JSON instead of a table")
}

func printCandidates(w io.Writer, cands []link.Candidate, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cands)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATOR\tDESCRIPTION")
	for _, c := range cands {
		fmt.Fprintf(tw, "%s\t%s\n", c.Locator, c.Description)
	}
	return tw.Flush()
}
