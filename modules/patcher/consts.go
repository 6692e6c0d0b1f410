package patcher

import (
	"time"

	"github.com/patchkit-go/patchkit/build"
)

const (
	// DefaultVerifyConcurrency is how many targets Verifier checks in
	// parallel when the caller does not override it.
	DefaultVerifyConcurrency = 8

	// DefaultSplitBy is how many chunks QueueHTTPInstall/QueueStreamInstall
	// divide a source patch's missing parts into when the caller passes
	// splitBy <= 0.
	DefaultSplitBy = 8

	// maxOuterAttempts is how many attempts in a row may fail without
	// landing a part before httpInstallTask.Repair gives up with
	// ExhaustedRetries.
	maxOuterAttempts = 8

	// backoffFreeAttempts is how many failures are tolerated before
	// backoff sleeps begin.
	backoffFreeAttempts = 2

	// backoffCapShift bounds the exponential backoff at 2^5 seconds (32s).
	backoffCapShift = 5

	// baseBackoff is the unit the exponential backoff is scaled from.
	baseBackoff = time.Second

	// coalesceGap is the maximum gap between two pending byte ranges that
	// still get merged into a single HTTP range.
	coalesceGap = 1024

	// maxRangesPerRequest bounds how many ranges a single GET lists; excess
	// ranges are dropped from the tail and re-requested on the next pass.
	maxRangesPerRequest = 1024

	// patcherUserAgent is sent as the User-Agent header on every ranged GET.
	patcherUserAgent = "patchkit/1.0"

	// sidHeader carries the per-task session identifier when set.
	sidHeader = "X-Patch-Unique-Id"
)

// ProgressReportInterval is how often the Verifier and Scheduler progress
// timers fire. Testing builds use a much shorter interval so tests don't
// need to wait a quarter second for a single tick.
var ProgressReportInterval = build.Select(build.Var{
	Standard: 250 * time.Millisecond,
	Dev:      250 * time.Millisecond,
	Testing:  10 * time.Millisecond,
}).(time.Duration)
