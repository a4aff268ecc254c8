package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetdispatch/fleetdispatch/pkg/geo"
)

// PositionProvider is the device location service.
type PositionProvider interface {
	// RequestPermission asks for location access and reports whether it was granted.
	RequestPermission(ctx context.Context) (bool, error)

	// CurrentPosition takes a single high-accuracy fix.
	CurrentPosition(ctx context.Context) (Sample, error)

	// Watch subscribes to position updates. Providers should honour opts but are not
	// required to.
	Watch(ctx context.Context, opts WatchOptions) (Subscription, error)
}

// Subscription is a live position watch.
type Subscription interface {
	// Samples delivers fixes until the subscription is closed or the provider runs dry.
	Samples() <-chan Sample

	// Close releases the watch. It is safe to call more than once.
	Close() error
}

// ErrEmptyTrack is returned when a track file contains no points.
var ErrEmptyTrack = errors.New("track has no points")

// TrackPoint is one recorded fix. At is the offset from the start of the track.
type TrackPoint struct {
	Latitude  float64       `yaml:"lat"`
	Longitude float64       `yaml:"lon"`
	Speed     *float64      `yaml:"speed,omitempty"`
	Heading   *float64      `yaml:"heading,omitempty"`
	At        time.Duration `yaml:"at"`
}

// Track is a recorded drive.
type Track struct {
	Points []TrackPoint `yaml:"points"`
}

// LoadTrack reads a track file. JSON files are accepted as well as YAML.
func LoadTrack(path string) (Track, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return Track{}, fmt.Errorf("reading track file: %w", err)
	}
	return ParseTrack(data)
}

// ParseTrack decodes a YAML or JSON track.
func ParseTrack(data []byte) (Track, error) {
	var track Track
	if err := yaml.Unmarshal(data, &track); err != nil {
		return Track{}, fmt.Errorf("parsing track: %w", err)
	}
	if len(track.Points) == 0 {
		return Track{}, ErrEmptyTrack
	}
	for i, p := range track.Points {
		if err := (geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}).Validate(); err != nil {
			return Track{}, fmt.Errorf("track point %d: %w", i, err)
		}
	}
	return track, nil
}

// ReplayConfig holds configuration for a ReplayProvider.
type ReplayConfig struct {
	Track Track

	// Speedup divides the recorded gaps between points. Default: 1
	Speedup float64

	// Deny makes RequestPermission refuse access.
	Deny bool

	// Now is the time source for CapturedAt. Default: time.Now
	Now func() time.Time
}

// ReplayProvider plays back a recorded track as if it were a live device. Samples carry
// the recorded timing, so CapturedAt advances by the unscaled offsets even when Speedup
// shortens the real wait.
type ReplayProvider struct {
	track   Track
	speedup float64
	deny    bool
	now     func() time.Time
}

// NewReplayProvider creates a provider over a track.
func NewReplayProvider(cfg ReplayConfig) *ReplayProvider {
	speedup := cfg.Speedup
	if speedup <= 0 {
		speedup = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &ReplayProvider{
		track:   cfg.Track,
		speedup: speedup,
		deny:    cfg.Deny,
		now:     now,
	}
}

// RequestPermission grants access unless the provider was configured to deny it.
func (p *ReplayProvider) RequestPermission(context.Context) (bool, error) {
	return !p.deny, nil
}

// CurrentPosition returns the first recorded point.
func (p *ReplayProvider) CurrentPosition(context.Context) (Sample, error) {
	if len(p.track.Points) == 0 {
		return Sample{}, ErrEmptyTrack
	}
	return p.sample(p.track.Points[0], p.now()), nil
}

// Watch replays the points after the first one on their recorded schedule.
func (p *ReplayProvider) Watch(ctx context.Context, _ WatchOptions) (Subscription, error) {
	if len(p.track.Points) == 0 {
		return nil, ErrEmptyTrack
	}

	sub := &replaySubscription{
		samples: make(chan Sample),
		done:    make(chan struct{}),
	}
	go sub.run(ctx, p, p.now())
	return sub, nil
}

func (p *ReplayProvider) sample(tp TrackPoint, at time.Time) Sample {
	return Sample{
		Latitude:   tp.Latitude,
		Longitude:  tp.Longitude,
		Speed:      tp.Speed,
		Heading:    tp.Heading,
		CapturedAt: at,
	}
}

type replaySubscription struct {
	samples chan Sample
	done    chan struct{}
	once    sync.Once
}

func (s *replaySubscription) Samples() <-chan Sample {
	return s.samples
}

func (s *replaySubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *replaySubscription) run(ctx context.Context, p *ReplayProvider, start time.Time) {
	defer close(s.samples)

	first := p.track.Points[0].At
	prev := first
	for _, tp := range p.track.Points[1:] {
		wait := time.Duration(float64(tp.At-prev) / p.speedup)
		prev = tp.At

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		select {
		case s.samples <- p.sample(tp, start.Add(tp.At-first)):
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}
