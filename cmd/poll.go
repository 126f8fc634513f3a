package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"artfightwatch/internal/artfight"
	"artfightwatch/internal/model"
)

var pollKind string

var pollCmd = &cobra.Command{
	Use:   "poll [username...]",
	Short: "Run one poll cycle for the given subjects and exit",
	Long:  "Walks the listings of the named subjects (default: all enabled subjects) once, records anything new, and prints what was found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		subjects := args
		if len(subjects) == 0 {
			subjects = cfg.EnabledSubjects()
		}
		if len(subjects) == 0 {
			return fmt.Errorf("no subjects given and none enabled in config")
		}

		kinds := []model.Kind{model.KindAttack, model.KindDefense}
		switch pollKind {
		case "attacks":
			kinds = kinds[:1]
		case "defenses":
			kinds = kinds[1:]
		case "both":
		default:
			return fmt.Errorf("unknown --kind %q (want attacks, defenses, or both)", pollKind)
		}

		total := 0
		for _, subject := range subjects {
			for _, kind := range kinds {
				items, err := env.Client.FetchNewItems(ctx, subject, kind)
				total += len(items)
				for _, item := range items {
					fmt.Printf("%-8s %s  %q by %s\n", item.Kind, item.URL, item.Title, item.Attacker())
				}
				if err != nil {
					if artfight.IsAuth(err) {
						return fmt.Errorf("authentication rejected by origin, check configured cookies: %w", err)
					}
					zap.L().Error("poll failed",
						zap.String("subject", subject),
						zap.String("kind", string(kind)),
						zap.Error(err),
					)
				}
			}
		}

		fmt.Printf("%d new item(s)\n", total)
		return nil
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollKind, "kind", "both", "listing kind to poll: attacks, defenses, or both")
	rootCmd.AddCommand(pollCmd)
}
