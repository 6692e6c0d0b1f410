package patcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patchkit-go/patchkit/index"
	"github.com/patchkit-go/patchkit/index/memindex"
)

func buildSourceIndex(ranges [][2]int64) *memindex.Index {
	b := memindex.NewBuilder().SetVersion("1.0", "v.ver", "v.bck")
	b.SetSourceLastPtr(0, 10_000_000)
	tb := b.AddTarget("out.bin", 0)
	for _, r := range ranges {
		size := r[1] - r[0]
		tb.AddSourcePart(0, r[0], make([]byte, size), 0)
	}
	return b.Build()
}

func allParts(ix index.Index, targetIndex int) []index.Part {
	t := ix.Target(targetIndex)
	parts := make([]index.Part, t.NumParts())
	for i := range parts {
		parts[i] = t.Part(i)
	}
	return parts
}

func TestBuildRangesCoalescesAdjacentAndNearbyParts(t *testing.T) {
	ix := buildSourceIndex([][2]int64{
		{0, 100},
		{100, 200},
		{200 + coalesceGap/2, 300 + coalesceGap/2},
		{50_000, 50_100},
	})

	task := newHTTPInstallTask(ix, nil, nil, 0, "http://example.invalid", "", nil, nil, allParts(ix, 0))

	ranges := task.buildRanges()
	require.Len(t, ranges, 2)
	require.Equal(t, int64(0), ranges[0].start)
	require.True(t, ranges[0].end >= 300)
	require.Equal(t, int64(50_000), ranges[1].start)
}

func TestBuildRangesClampsToMaxRangesPerRequest(t *testing.T) {
	var rs [][2]int64
	var off int64
	for i := 0; i < maxRangesPerRequest+10; i++ {
		rs = append(rs, [2]int64{off, off + 10})
		off += 10 + coalesceGap*2
	}
	ix := buildSourceIndex(rs)

	task := newHTTPInstallTask(ix, nil, nil, 0, "http://example.invalid", "", nil, nil, allParts(ix, 0))
	ranges := task.buildRanges()
	require.LessOrEqual(t, len(ranges), maxRangesPerRequest)
}

func TestSleepBackoffRespectsCancellation(t *testing.T) {
	cancellation := make(chan struct{})
	close(cancellation)
	err := sleepBackoff(backoffFreeAttempts, cancellation)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestSleepBackoffSleepsApproximatelyExpectedDuration(t *testing.T) {
	start := time.Now()
	err := sleepBackoff(backoffFreeAttempts, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), baseBackoff)
}
