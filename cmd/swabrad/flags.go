package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to. When APIUrl is
// empty the address is derived from the [server] section of --config.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type CausesFlags struct {
	API       APIFlags
	BuildType string
}

type CleanupFlags struct {
	API       APIFlags
	Interrupt bool
	Async     bool
}

// ToolFlags configures local tool operations, run without a daemon.
type ToolFlags struct {
	Dir           string
	TrustFiles    []string
	TrustDirs     []string
	NoSystemRoots bool
	Timeout       time.Duration
}

type ConfigInitFlags struct {
	Path  string
	Force bool
}
