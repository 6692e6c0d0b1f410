package patcher

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAttachForWriteFromFileResizesToTargetSize(t *testing.T) {
	ix := buildTwoPartIndex()
	registry := NewRegistry(ix, NewLedger(), newTestLogger(t))
	dir := t.TempDir()

	require.NoError(t, registry.AttachForWriteFromFile(0, dir+"/a.bin", false))
	defer registry.CloseAll()

	n, err := registry.Stream(0).Len()
	require.NoError(t, err)
	require.EqualValues(t, 8, n)
}

func TestRegistryWriteToTargetSerializesConcurrentWriters(t *testing.T) {
	ix := buildTwoPartIndex()
	registry := NewRegistry(ix, NewLedger(), newTestLogger(t))
	dir := t.TempDir()
	require.NoError(t, registry.AttachForWriteFromFile(0, dir+"/a.bin", false))
	defer registry.CloseAll()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := byte('a' + i%26)
			buf := []byte{b, b, b, b, b, b, b, b}
			require.NoError(t, registry.WriteToTarget(0, 0, buf))
		}(i)
	}
	wg.Wait()

	buf := make([]byte, 8)
	_, err := registry.Stream(0).ReadAt(buf, 0)
	require.NoError(t, err)
	for i := 1; i < len(buf); i++ {
		require.Equal(t, buf[0], buf[i], "a torn write interleaved bytes from two writers")
	}
}

func TestRegistryWriteToTargetNoStreamAttachedIsNoop(t *testing.T) {
	ix := buildTwoPartIndex()
	registry := NewRegistry(ix, NewLedger(), newTestLogger(t))
	require.NoError(t, registry.WriteToTarget(0, 0, []byte("ignored!")))
}

func TestRegistryAttachAllForReadMarksMissingTargets(t *testing.T) {
	ix := buildTwoPartIndex()
	ledger := NewLedger()
	registry := NewRegistry(ix, ledger, newTestLogger(t))
	dir := t.TempDir()

	require.NoError(t, registry.AttachAllForRead(dir))
	defer registry.CloseAll()

	require.False(t, ledger.IsEmpty())
	require.Len(t, ledger.MissingPartsForPatch(0), 1)
}
