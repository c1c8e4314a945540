// Package config loads the ChainPilot JSON configuration file, fills in
// defaults relative to the file location, and applies environment overrides
// for secrets such as the API key and the RPC endpoint override.
package config
