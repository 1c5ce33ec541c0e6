// Command davsync refreshes and synchronizes CardDAV address books and
// CalDAV calendars against a local SQLite database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "davsync",
		Short:         "Synchronize CardDAV/CalDAV collections into a local database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "davsync.yaml", "path to the configuration file")

	var manual bool
	refreshCmd := &cobra.Command{
		Use:   "refresh [account...]",
		Short: "Rediscover the collection lists of the given accounts (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.forAccounts(args, func(acct accountRef) error {
				return a.refreshAccount(acct, manual)
			})
		},
	}
	refreshCmd.Flags().BoolVar(&manual, "manual", true, "treat the run as user-initiated (alerting failures)")

	var fullResync bool
	syncCmd := &cobra.Command{
		Use:   "sync [account...]",
		Short: "Synchronize the selected collections of the given accounts (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.forAccounts(args, func(acct accountRef) error {
				return a.syncAccount(acct, manual, fullResync)
			})
		},
	}
	syncCmd.Flags().BoolVar(&manual, "manual", true, "treat the run as user-initiated (alerting failures)")
	syncCmd.Flags().BoolVar(&fullResync, "full", false, "ignore unchanged sync states and re-list everything")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the discovered collections of every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.listCollections(cmd.OutOrStdout())
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <account> <collection-url>",
		Short: "Mark a collection for synchronization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.setCollectionSync(args[0], args[1], true)
		},
	}
	deselectCmd := &cobra.Command{
		Use:   "deselect <account> <collection-url>",
		Short: "Exclude a collection from synchronization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.setCollectionSync(args[0], args[1], false)
		},
	}

	var readOnlyOff bool
	readOnlyCmd := &cobra.Command{
		Use:   "readonly <account> <collection-url>",
		Short: "Force a collection read-only (or writable again with --off)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.setCollectionReadOnly(args[0], args[1], !readOnlyOff)
		},
	}
	readOnlyCmd.Flags().BoolVar(&readOnlyOff, "off", false, "clear the read-only override")

	root.AddCommand(refreshCmd, syncCmd, listCmd, selectCmd, deselectCmd, readOnlyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
