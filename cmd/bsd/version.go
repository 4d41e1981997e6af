package main

import "fmt"

// appMajor, appMinor and appPatch make up the string version reports.
// They are fixed here; as uint variables they cannot be set with
// -ldflags -X, which sets only string variables.
var (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// version returns the gateway's semantic version string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}
