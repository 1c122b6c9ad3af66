package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/koinos/koinos-state-db/config"
	"github.com/koinos/koinos-state-db/core/logging"
	"github.com/koinos/koinos-state-db/statedb"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "statedbctl",
	Short: "Inspect a koinos-state-db store",
}

func init() {
	logging.InitLogging("production")
	config.SetupDefaultConfig()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file")
	rootCmd.PersistentFlags().String("path", "", "path to the rocksdb store (empty opens a transient in-memory store)")

	rootCmd.AddCommand(statsCmd, rootNodeCmd, headCmd, forkHeadsCmd)
}

// openFromFlags opens the store named by --config/--path and returns it
// already holding a shared lock, the mode every read-only inspection
// subcommand needs.
func openFromFlags(cmd *cobra.Command) (*statedb.Database, statedb.SharedLock, error) {
	if err := config.SetupConfig(configFile); err != nil {
		return nil, statedb.SharedLock{}, err
	}
	cfg := config.Get()
	if path, _ := cmd.Flags().GetString("path"); path != "" {
		cfg.Path = path
	}

	// Header bytes are opaque to this tool, so no header decoder is
	// passed. The subcommands only open the store and read from it, so
	// the comparator is never asked to pick a head here; the block_time
	// and proof_of_burn comparators call their decoder unconditionally
	// and would panic with this nil one.
	db := statedb.NewDatabase(cfg.Comparator(nil))
	ulock := db.Lock()
	err := db.Open(cfg.Path, cfg.Options(), nil, ulock)
	ulock.Unlock()
	if err != nil {
		return nil, statedb.SharedLock{}, err
	}
	return db, db.RLock(), nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print database-wide counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, lock, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		s := db.Stats(lock)
		fmt.Printf("nodes=%d fork_heads=%d head_revision=%d root_revision=%d comparator=%s\n",
			s.NodeCount, s.ForkHeadCount, s.HeadRevision, s.RootRevision, s.Comparator)
		return nil
	},
}

var rootNodeCmd = &cobra.Command{
	Use:   "root",
	Short: "print the current root node",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, lock, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		root := db.GetRoot(lock)
		fmt.Printf("id=%s revision=%d\n", root.ID(), root.Revision())
		return nil
	},
}

var headCmd = &cobra.Command{
	Use:   "head",
	Short: "print the current chain head",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, lock, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		head := db.GetHead(lock)
		if head == nil {
			fmt.Println("no head")
			return nil
		}
		fmt.Printf("id=%s revision=%d finalized=%t\n", head.ID(), head.Revision(), head.IsFinalized())
		return nil
	},
}

var forkHeadsCmd = &cobra.Command{
	Use:   "fork-heads",
	Short: "list the current fork-head set",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, lock, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer lock.Unlock()

		for _, n := range db.GetForkHeads(lock) {
			fmt.Printf("id=%s revision=%d\n", n.ID(), n.Revision())
		}
		return nil
	},
}
