package capture

import (
	"context"
	"sync"

	"github.com/AlverezYari/finecam/pkg/camera"
	"github.com/rs/zerolog"
)

type Options struct {
	Stream       camera.StreamConfig
	AutoCropArea float64
	// SetPhoto receives both artifacts after every successful Save.
	SetPhoto func(Photo)
}

// Pipeline owns the single camera track and everything derived from it.
// Platform calls are made without holding mu; the generation counter makes
// results of superseded calls no-ops.
type Pipeline struct {
	manager camera.Manager
	opts    Options
	logger  zerolog.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	track     camera.Track
	device    camera.Device
	profile   *CapabilityProfile
	controls  Controls
	frame     *CapturedFrame
	crop      CropRegion
	lastErr   error
	lastPhoto *Photo

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(manager camera.Manager, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.AutoCropArea <= 0 || opts.AutoCropArea > 1 {
		opts.AutoCropArea = DefaultAutoCropArea
	}
	return &Pipeline{
		manager: manager,
		opts:    opts,
		logger:  logger.With().Str("component", "capture").Logger(),
		state:   StateIdle,
	}
}

// OnPhoto replaces the save callback.
func (p *Pipeline) OnPhoto(fn func(Photo)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.SetPhoto = fn
}

// Start acquires the camera. Failures are absorbed: the pipeline becomes
// Disabled and the error is kept for Status. A later Start supersedes any
// acquisition still in flight.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	old := p.releaseLocked(false)
	p.mu.Unlock()

	p.closeTrack(old)
	p.acquire(ctx, gen, false)
}

// Stop releases the camera. Safe to call at any time, any number of times.
// A Disabled pipeline stays Disabled until the next Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.gen++
	old := p.releaseLocked(false)
	if p.state != StateDisabled {
		p.state = StateIdle
	}
	p.mu.Unlock()

	if p.closeTrack(old) {
		p.logger.Info().Msg("Camera stopped")
	}
}

// Watch handles device-change events in the background until Close.
func (p *Pipeline) Watch(notifier camera.DeviceNotifier) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.watchMu.Lock()
	prevCancel, prevDone := p.watchCancel, p.watchDone
	p.watchCancel, p.watchDone = cancel, done
	p.watchMu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go func() {
		defer close(done)
		defer notifier.Close()
		if err := p.WatchDevices(ctx, notifier); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Msg("Device watcher stopped")
		}
	}()
}

// WatchDevices performs one stop+start per device event until ctx is done or
// the notifier's channel closes.
func (p *Pipeline) WatchDevices(ctx context.Context, notifier camera.DeviceNotifier) error {
	events := notifier.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.logger.Info().Str("kind", ev.Kind.String()).Str("path", ev.Path).Msg("Camera devices changed")
			p.HandleDeviceChange(ctx)
		}
	}
}

// HandleDeviceChange rebinds to the (possibly new) default device. An active
// edit session survives if the new stream comes up.
func (p *Pipeline) HandleDeviceChange(ctx context.Context) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	keepEdit := p.state == StateEditing && p.frame != nil
	old := p.releaseLocked(keepEdit)
	p.mu.Unlock()

	p.closeTrack(old)
	p.acquire(ctx, gen, keepEdit)
}

// Close stops device watching and releases the stream before returning.
func (p *Pipeline) Close() {
	p.watchMu.Lock()
	cancel, done := p.watchCancel, p.watchDone
	p.watchCancel, p.watchDone = nil, nil
	p.watchMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.Stop()
}

func (p *Pipeline) acquire(ctx context.Context, gen uint64, keepEdit bool) {
	track, err := p.manager.OpenCamera(ctx, p.opts.Stream)

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		if track != nil {
			track.Close()
		}
		p.logger.Debug().Msg("Camera acquisition superseded")
		return
	}
	if err != nil {
		p.state = StateDisabled
		p.lastErr = err
		p.frame = nil
		p.crop = CropRegion{}
		p.mu.Unlock()
		p.logger.Error().Err(err).Msg("Error accessing camera")
		return
	}

	device := track.Device()
	p.track = track
	p.device = device
	p.lastErr = nil
	if keepEdit && p.frame != nil {
		p.state = StateEditing
	} else {
		p.state = StateStreaming
	}
	profile := profileFrom(track.Capabilities())
	p.controls = defaultControls(profile)
	p.mu.Unlock()

	p.logger.Info().Str("device", device.Name).Str("id", device.ID).Msg("Camera started")
	p.applyDefaults(ctx, track, profile)

	p.mu.Lock()
	if p.gen == gen {
		p.profile = &profile
	}
	p.mu.Unlock()
}

func (p *Pipeline) applyDefaults(ctx context.Context, track camera.Track, profile CapabilityProfile) {
	if profile.Focus != nil {
		if err := track.ApplyConstraints(ctx, camera.Constraints{FocusMode: camera.FocusContinuous}); err != nil {
			p.logger.Warn().Err(err).Msg("Error enabling auto-focus")
		} else {
			p.logger.Debug().Msg("Auto-focus enabled")
		}
	}
	if profile.Brightness != nil {
		mid := profile.Brightness.Mid()
		if err := track.ApplyConstraints(ctx, camera.Constraints{Brightness: camera.Float(mid)}); err != nil {
			p.logger.Warn().Err(err).Msg("Error applying brightness constraints")
		} else {
			p.logger.Debug().Float64("brightness", mid).Msg("Brightness constraints applied")
		}
	}
}

// releaseLocked detaches the track and everything derived from it. The
// caller closes the returned track after unlocking.
func (p *Pipeline) releaseLocked(keepEdit bool) camera.Track {
	old := p.track
	p.track = nil
	p.device = camera.Device{}
	p.profile = nil
	p.controls = Controls{}
	if !keepEdit {
		p.frame = nil
		p.crop = CropRegion{}
		if p.state == StateEditing || p.state == StateStreaming {
			p.state = StateIdle
		}
	}
	return old
}

func (p *Pipeline) closeTrack(t camera.Track) bool {
	if t == nil {
		return false
	}
	if err := t.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Error releasing camera track")
	}
	return true
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CameraAvailable is false only after a failed acquisition.
func (p *Pipeline) CameraAvailable() bool {
	return p.State() != StateDisabled
}

// Streaming reports whether a track is held.
func (p *Pipeline) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track != nil
}

// Snapshot copies the pipeline state for display.
func (p *Pipeline) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		State:           p.state,
		CameraAvailable: p.state != StateDisabled,
		Device:          p.device,
		Profile:         p.profile.clone(),
		Controls:        p.controls,
		Crop:            p.crop,
	}
	if p.frame != nil {
		s.FrameID = p.frame.ID
		s.FrameWidth = p.frame.Width()
		s.FrameHeight = p.frame.Height()
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

// LastPhoto returns the artifacts of the most recent save.
func (p *Pipeline) LastPhoto() (Photo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPhoto == nil {
		return Photo{}, false
	}
	return *p.lastPhoto, true
}
