// Package common carries process-wide identity and logger setup shared by
// every service and CLI in this module.
package common

import "runtime/debug"

// PackageName identifies this module in metrics namespaces and user agents.
const PackageName = "policy-enrollment-backend"

// Version is the build version reported in logs. It is overridden at link
// time via -ldflags "-X .../common.Version=v1.2.3" and falls back to module
// build info when left at its default.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}
