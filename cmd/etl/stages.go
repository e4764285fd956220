package main

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extract, load and marts for one day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := windowFlag(cmd)
		if err != nil {
			return err
		}
		retries, err := cmd.Flags().GetInt("retries")
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			policy := a.retryPolicy()
			policy.Retries = retries
			res, err := a.runner.RunWithRetry(cmd.Context(), w, policy)
			if perr := printResult(res); perr != nil {
				return perr
			}
			return err
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Archive the USGS responses for one day in the raw layer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := windowFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.runner.Extract(cmd.Context(), w)
			if perr := printResult(res); perr != nil {
				return perr
			}
			return err
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Append the archived objects of one day to staging",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := windowFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.runner.LoadStaging(cmd.Context(), w)
			if perr := printResult(res); perr != nil {
				return perr
			}
			return err
		})
	},
}

var martsCmd = &cobra.Command{
	Use:   "marts",
	Short: "Rebuild the daily count and average magnitude marts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.runner.BuildMarts(cmd.Context())
			if perr := printResult(res); perr != nil {
				return perr
			}
			return err
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the bucket, schemas and staging tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return a.migrate(cmd.Context())
		})
	},
}

func init() {
	addDateFlag(runCmd)
	addDateFlag(extractCmd)
	addDateFlag(loadCmd)
	runCmd.Flags().Int("retries", 0, "retries per failed stage")
}
