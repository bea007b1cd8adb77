package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "Print the account's owned heroes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			owned, err := a.loader.OwnedAssets(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(owned)
		},
	}
}

func battlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "battles",
		Short: "Reconcile and print the account's battles",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := a.ownedTokenIDs(cmd.Context())
			if err != nil {
				return err
			}
			battles, err := a.reconciler.Battles(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return printJSON(battles)
		},
	}
}

func trainingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trainings",
		Short: "Reconcile and print the account's training sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := a.ownedTokenIDs(cmd.Context())
			if err != nil {
				return err
			}
			trainings, err := a.reconciler.Trainings(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return printJSON(trainings)
		},
	}
}

func clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop the snapshotted state for the configured scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.reconciler.ClearCache(cmd.Context())
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
