package tracking_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdispatch/fleetdispatch/internal/tracking"
	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

const yamlTrack = `
points:
  - lat: 14.5995
    lon: 120.9842
    at: 0s
  - lat: 14.6005
    lon: 120.9842
    speed: 8.3
    at: 12s
  - lat: 14.6015
    lon: 120.9842
    heading: 0
    at: 24s
`

const jsonTrack = `{"points":[{"lat":14.5995,"lon":120.9842,"at":"0s"},{"lat":14.6005,"lon":120.9842,"at":"10s"}]}`

func TestParseTrack(t *testing.T) {
	track, err := tracking.ParseTrack([]byte(yamlTrack))
	require.NoError(t, err)
	require.Len(t, track.Points, 3)
	assert.Equal(t, 12*time.Second, track.Points[1].At)
	require.NotNil(t, track.Points[1].Speed)
	assert.Equal(t, 8.3, *track.Points[1].Speed)
	assert.Nil(t, track.Points[1].Heading)

	track, err = tracking.ParseTrack([]byte(jsonTrack))
	require.NoError(t, err)
	assert.Len(t, track.Points, 2)
}

func TestParseTrack_Invalid(t *testing.T) {
	_, err := tracking.ParseTrack([]byte(`points: []`))
	assert.ErrorIs(t, err, tracking.ErrEmptyTrack)

	_, err = tracking.ParseTrack([]byte("points:\n  - lat: 123\n    lon: 0\n"))
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}

func TestLoadTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlTrack), 0o600))

	track, err := tracking.LoadTrack(path)
	require.NoError(t, err)
	assert.Len(t, track.Points, 3)

	_, err = tracking.LoadTrack(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReplayProvider_Replays(t *testing.T) {
	track, err := tracking.ParseTrack([]byte(yamlTrack))
	require.NoError(t, err)

	provider := tracking.NewReplayProvider(tracking.ReplayConfig{
		Track:   track,
		Speedup: 1000,
		Now:     func() time.Time { return t0 },
	})

	granted, err := provider.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)

	fix, err := provider.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14.5995, fix.Latitude)
	assert.Equal(t, t0, fix.CapturedAt)

	sub, err := provider.Watch(context.Background(), tracking.DefaultWatchOptions())
	require.NoError(t, err)
	defer sub.Close()

	var got []tracking.Sample
	for s := range sub.Samples() {
		got = append(got, s)
	}

	require.Len(t, got, 2)
	assert.Equal(t, t0.Add(12*time.Second), got[0].CapturedAt)
	assert.Equal(t, t0.Add(24*time.Second), got[1].CapturedAt)
	assert.Equal(t, 14.6015, got[1].Latitude)
}

func TestReplayProvider_Deny(t *testing.T) {
	track, err := tracking.ParseTrack([]byte(yamlTrack))
	require.NoError(t, err)

	provider := tracking.NewReplayProvider(tracking.ReplayConfig{Track: track, Deny: true})
	granted, err := provider.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestReplayProvider_CloseStopsPlayback(t *testing.T) {
	track, err := tracking.ParseTrack([]byte(yamlTrack))
	require.NoError(t, err)

	provider := tracking.NewReplayProvider(tracking.ReplayConfig{Track: track})
	sub, err := provider.Watch(context.Background(), tracking.DefaultWatchOptions())
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Samples():
		assert.False(t, ok, "channel closes without delivering")
	case <-time.After(time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestSampler_WithReplayProvider(t *testing.T) {
	track, err := tracking.ParseTrack([]byte(yamlTrack))
	require.NoError(t, err)

	provider := tracking.NewReplayProvider(tracking.ReplayConfig{
		Track:   track,
		Speedup: 1000,
		Now:     func() time.Time { return t0 },
	})
	relay := &recordingRelay{}
	s := newSampler(t, provider, relay, "driver")

	availability, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, availability.Available)

	s.Wait()
	assert.Equal(t, 3, relay.count(), "points 12 s and ~111 m apart all pass the gate")
}
