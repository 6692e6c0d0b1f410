//go:build testing

package build

// Release identifies which of the three build configurations produced this
// binary.
const Release = "testing"

// DEBUG controls whether Critical and Severe panic after logging.
const DEBUG = true
