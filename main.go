package main

import (
	"os"

	"grimm.is/tether/cmd"
	"grimm.is/tether/internal/brand"
)

func main() {
	// A detached watchdog re-executes this binary with its parameters in
	// the environment. Unset it so nothing the watchdog runs inherits it.
	if params, ok := os.LookupEnv(brand.WatchdogEnv); ok {
		os.Unsetenv(brand.WatchdogEnv)
		os.Exit(cmd.RunWatchdog(params))
	}

	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
