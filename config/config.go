package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/koinos/koinos-state-db/statedb"
)

// Config is the embedded-service view of a state database's process-level
// configuration - the knobs an operator tunes without recompiling, as
// distinct from the statedb.Options struct the library itself takes in
// Database.Open.
type Config struct {
	Path                 string
	CacheSize            int64
	CreateIfMissing      bool
	MetadataColumnFamily string
	ForkChoice           string
}

// SetupDefaultConfig installs the default db.* keys.
func SetupDefaultConfig() {
	viper.SetDefault("db.path", "")
	viper.SetDefault("db.cache_size", 64<<20)
	viper.SetDefault("db.create_if_missing", true)
	viper.SetDefault("db.metadata_column_family", "metadata")
	viper.SetDefault("db.fork_choice", "fifo")
}

// SetupConfig reads configFile into viper, overlaying the defaults. An
// empty configFile is a no-op - viper's defaults stand alone, the way an
// embedder with no config file still gets a usable database.
func SetupConfig(configFile string) error {
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("fatal error config file: %w", err)
	}
	return nil
}

// Get reads the current db.* keys out of viper into a Config.
func Get() *Config {
	return &Config{
		Path:                 viper.GetString("db.path"),
		CacheSize:            viper.GetInt64("db.cache_size"),
		CreateIfMissing:      viper.GetBool("db.create_if_missing"),
		MetadataColumnFamily: viper.GetString("db.metadata_column_family"),
		ForkChoice:           viper.GetString("db.fork_choice"),
	}
}

// Options converts c into the statedb.Options backend construction takes.
func (c *Config) Options() statedb.Options {
	return statedb.Options{
		CreateIfMissing:      c.CreateIfMissing,
		CacheSize:            c.CacheSize,
		MetadataColumnFamily: c.MetadataColumnFamily,
	}
}

// Comparator builds the fork-choice comparator named by db.fork_choice.
// Unknown names fall back to FIFO.
func (c *Config) Comparator(decode statedb.HeaderDecoder) statedb.Comparator {
	switch c.ForkChoice {
	case "block_time":
		return statedb.NewBlockTimeComparator(decode)
	case "proof_of_burn":
		return statedb.NewProofOfBurnComparator(decode)
	default:
		return statedb.NewFIFOComparator()
	}
}
