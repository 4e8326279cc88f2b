package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var agentsJSON bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	Long: `Lists the agents 'tally suite --agent' accepts: the built-in defaults plus
any [agents.<name>] entries from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := cfg.ListAgents()
		if agentsJSON {
			agents := make(map[string]any, len(names))
			for _, n := range names {
				agents[n] = cfg.GetAgent(n)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(agents)
		}

		if len(names) == 0 {
			fmt.Println("No agents configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCOMMAND\tTIMEOUT")
		fmt.Fprintln(w, "----\t-------\t-------")
		for _, n := range names {
			a := cfg.GetAgent(n)
			cmdline := strings.Join(append([]string{a.Command}, a.Args...), " ")
			if len(cmdline) > 60 {
				cmdline = cmdline[:57] + "..."
			}
			timeout := "default"
			if a.Timeout > 0 {
				timeout = fmt.Sprintf("%ds", a.Timeout)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", n, cmdline, timeout)
		}
		return w.Flush()
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "output as JSON")
}
