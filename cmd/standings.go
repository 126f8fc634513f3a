package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Fetch the current team standings and exit",
	Long:  "Fetches one standings sample, runs leader-change detection against stored history, appends the sample, and prints it as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		latest, err := env.Store.LatestStanding(ctx)
		if err != nil {
			return err
		}
		env.Detector.Restore(latest)

		standing, err := env.Client.FetchStandings(ctx)
		if err != nil {
			return eris.Wrap(err, "cmd: fetch standings")
		}

		changed, _ := env.Detector.Observe(standing.Team1Percentage)
		standing.LeaderChange = changed

		if err := env.Store.AppendStanding(ctx, *standing); err != nil {
			return eris.Wrap(err, "cmd: record standings")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(standing); err != nil {
			return err
		}
		if changed {
			fmt.Printf("leader change: %s takes the lead\n", cfg.Teams.DisplayName(standing.Leader()))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(standingsCmd)
}
