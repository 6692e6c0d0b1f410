//go:build dev

package build

// Release identifies which of the three build configurations produced this
// binary.
const Release = "dev"

// DEBUG controls whether Critical and Severe panic after logging.
const DEBUG = true
