//go:build !dev && !testing

package build

// Release identifies which of the three build configurations produced this
// binary. Standard builds never panic on Critical.
const Release = "standard"

// DEBUG controls whether Critical and Severe panic after logging.
const DEBUG = false
