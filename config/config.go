package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Name           string
	ListenSyncAddr string
	PrometheusAddr string
	LatticeRoot    string
	SchemaFile     string
	CertLoc        string
	KeyLoc         string
	Peers          map[string]string
	Propagation    Propagation
}

// Propagation tunes batching of the anti-entropy sender.
// Thresholds amortize network cost; they are not a
// correctness property.
type Propagation struct {
	BatchSize     int
	FlushInterval int
}

// Functions

// LoadConfig takes in the path to the main config file of
// a lattice node in TOML syntax and places the values from
// the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	if conf.Name == "" {
		return nil, fmt.Errorf("node name must not be empty")
	}

	if conf.LatticeRoot == "" {
		return nil, fmt.Errorf("lattice root directory must not be empty")
	}

	if conf.SchemaFile == "" {
		return nil, fmt.Errorf("schema file must not be empty")
	}

	// A node must not list itself among its peers,
	// otherwise it would gossip updates to itself.
	for peer := range conf.Peers {

		if peer == conf.Name {
			return nil, fmt.Errorf("node '%s' must not be listed in its own peers", conf.Name)
		}
	}

	// Either both or neither of cert and key have to
	// be present.
	if (conf.CertLoc == "") != (conf.KeyLoc == "") {
		return nil, fmt.Errorf("TLS cert and key must be supplied together")
	}

	// Apply defaults for unset propagation tunables.
	if conf.Propagation.BatchSize < 1 {
		conf.Propagation.BatchSize = 16
	}

	if conf.Propagation.FlushInterval < 1 {
		conf.Propagation.FlushInterval = 5
	}

	return conf, nil
}
