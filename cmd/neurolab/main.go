// Command neurolab drives the analytical pipeline from the shell:
// collect raw data into manifests, validate datasets against schema
// contracts, execute full analysis runs, and inspect stored runs.
package main

import "os"

func main() {
	os.Exit(run())
}
