package connector

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
)

func TestRegistryCachesConnectorsPerPlatform(t *testing.T) {
	t.Parallel()

	var built int32
	reg := NewRegistry(func(pf platform.Platform) (content.Connector, error) {
		atomic.AddInt32(&built, 1)
		return &fakeConn{pf: pf}, nil
	}, nil)

	first, err := reg.Get(platform.Xiaohongshu)
	require.NoError(t, err)
	second, err := reg.Get(platform.Xiaohongshu)
	require.NoError(t, err)
	require.Same(t, first, second, "repeat lookups must reuse the cached instance")
	require.EqualValues(t, 1, atomic.LoadInt32(&built))

	_, err = reg.Get(platform.Wechat)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&built))
}

func TestRegistryFailsFastForUnknownPlatform(t *testing.T) {
	t.Parallel()

	var calls int32
	reg := NewRegistry(func(pf platform.Platform) (content.Connector, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fmt.Errorf("no connector for %q: %w", pf, content.ErrUnsupportedPlatform)
	}, nil)

	_, err := reg.Get(platform.Platform("myspace"))
	require.ErrorIs(t, err, content.ErrUnsupportedPlatform)
	_, err = reg.Get(platform.Platform("myspace"))
	require.ErrorIs(t, err, content.ErrUnsupportedPlatform)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls), "construction failures must not be cached")
}

func TestRegistryCleanupAllReleasesEveryConnector(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(func(pf platform.Platform) (content.Connector, error) {
		return &fakeConn{pf: pf}, nil
	}, nil)

	a, err := reg.Get(platform.Xiaohongshu)
	require.NoError(t, err)
	b, err := reg.Get(platform.Wechat)
	require.NoError(t, err)

	reg.CleanupAll()
	require.Equal(t, 1, a.(*fakeConn).cleanupCount())
	require.Equal(t, 1, b.(*fakeConn).cleanupCount())

	// Connectors stay cached and usable; operations re-acquire sessions.
	again, err := reg.Get(platform.Xiaohongshu)
	require.NoError(t, err)
	require.Same(t, a, again)
}
