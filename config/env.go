package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the system where a
// lattice node is deployed. This enables host adaptions
// without needing to maintain two different config files.
type Env struct {
	LatticeRoot    string
	ListenSyncAddr string
}

// Functions

// LoadEnv looks for an .env file in the directory of the
// node and reads in all defined values.
func LoadEnv() (*Env, error) {

	// Load environment file.
	err := godotenv.Load(".env")
	if err != nil {
		return nil, fmt.Errorf("failed to read in .env file with: %v", err)
	}

	env := new(Env)

	// Fill variables from .env into struct.
	env.LatticeRoot = os.Getenv("LATTICE_ROOT")
	env.ListenSyncAddr = os.Getenv("LATTICE_LISTEN_SYNC_ADDR")

	return env, nil
}

// ApplyTo overrides config values with the ones set in
// the deployment environment.
func (env *Env) ApplyTo(conf *Config) {

	if env.LatticeRoot != "" {
		conf.LatticeRoot = env.LatticeRoot
	}

	if env.ListenSyncAddr != "" {
		conf.ListenSyncAddr = env.ListenSyncAddr
	}
}
