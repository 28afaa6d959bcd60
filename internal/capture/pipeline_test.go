package capture

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlverezYari/finecam/pkg/camera"
)

func newTestPipeline(t *testing.T, syn *camera.Synthetic, area float64) *Pipeline {
	t.Helper()
	p := New(syn, Options{AutoCropArea: area}, zerolog.Nop())
	t.Cleanup(p.Close)
	return p
}

// holdOpen makes the n-th OpenCamera call block until release is closed.
func holdOpen(syn *camera.Synthetic, n int64) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var calls atomic.Int64
	syn.BeforeOpen = func(ctx context.Context) error {
		if calls.Add(1) != n {
			return nil
		}
		close(entered)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return entered, release
}

func decodePNG(t *testing.T, f *File) image.Image {
	t.Helper()
	require.NotNil(t, f)
	img, err := png.Decode(bytes.NewReader(f.Data))
	require.NoError(t, err)
	return img
}

func assertSameRegion(t *testing.T, src image.Image, origin image.Point, got image.Image) {
	t.Helper()
	b := got.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			wr, wg, wb, wa := src.At(origin.X+x, origin.Y+y).RGBA()
			gr, gg, gb, ga := got.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if wr != gr || wg != gg || wb != gb || wa != ga {
				t.Fatalf("pixel (%d,%d) differs from source (%d,%d)", x, y, origin.X+x, origin.Y+y)
			}
		}
	}
}

func TestStartAppliesDefaults(t *testing.T) {
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)

	p.Start(context.Background())

	status := p.Snapshot()
	assert.Equal(t, StateStreaming, status.State)
	assert.True(t, status.CameraAvailable)
	assert.Equal(t, "synthetic-0", status.Device.ID)
	require.NotNil(t, status.Profile)
	assert.True(t, status.Profile.FocusSupported())
	assert.True(t, status.Profile.BrightnessSupported())
	assert.Equal(t, float64(100), status.Controls.FocusPercent)
	assert.Equal(t, float64(255), status.Controls.FocusDistance)
	assert.Equal(t, float64(100), status.Controls.Brightness)
	assert.False(t, status.Controls.ManualFocus)

	applied := syn.Tracks()[0].Applied()
	require.Len(t, applied, 2)
	assert.Equal(t, camera.FocusContinuous, applied[0].FocusMode)
	require.NotNil(t, applied[1].Brightness)
	assert.Equal(t, float64(100), *applied[1].Brightness)
}

func TestStartWithoutFocusSupport(t *testing.T) {
	syn := camera.NewSynthetic(640, 480)
	syn.Capabilities.FocusDistance = nil
	p := newTestPipeline(t, syn, 0)

	p.Start(context.Background())

	status := p.Snapshot()
	require.NotNil(t, status.Profile)
	assert.False(t, status.Profile.FocusSupported())
	assert.True(t, status.Profile.BrightnessSupported())
	assert.False(t, p.SetManualFocus(context.Background(), true))
	assert.False(t, p.AdjustFocus(context.Background(), 50))
}

func TestStartFailureDisables(t *testing.T) {
	syn := camera.NewSynthetic(640, 480)
	syn.OpenErr = camera.ErrPermissionDenied
	p := newTestPipeline(t, syn, 0)

	p.Start(context.Background())

	status := p.Snapshot()
	assert.Equal(t, StateDisabled, status.State)
	assert.False(t, p.CameraAvailable())
	assert.Contains(t, status.LastError, "permission")
	assert.Nil(t, status.Profile)

	_, err := p.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotStreaming)

	p.Stop()
	assert.Equal(t, StateDisabled, p.State())

	syn.OpenErr = nil
	p.Start(context.Background())
	assert.Equal(t, StateStreaming, p.State())
	assert.Empty(t, p.Snapshot().LastError)
}

func TestFocusMappingBounds(t *testing.T) {
	ranges := []camera.Range{
		{Min: 0, Max: 255},
		{Min: 0.1, Max: 0.3},
		{Min: -5, Max: 5},
		{Min: 10, Max: 10},
		{Min: 0, Max: 1023},
	}
	for _, r := range ranges {
		for p := 0.0; p <= 100; p += 0.5 {
			v := FocusMapping(r, p)
			assert.Truef(t, r.Contains(v), "range %+v percent %v mapped to %v", r, p, v)
		}
		assert.Equal(t, r.Min, FocusMapping(r, 0))
		assert.Equal(t, r.Max, FocusMapping(r, 100))
	}
}

func TestAdjustFocus(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	assert.False(t, p.AdjustFocus(ctx, 50), "manual focus is off")

	require.True(t, p.SetManualFocus(ctx, true))
	require.True(t, p.AdjustFocus(ctx, 50))

	controls := p.Snapshot().Controls
	assert.True(t, controls.ManualFocus)
	assert.Equal(t, float64(50), controls.FocusPercent)
	assert.Equal(t, 127.5, controls.FocusDistance)

	applied := syn.Tracks()[0].Applied()
	last := applied[len(applied)-1]
	assert.Equal(t, camera.FocusManual, last.FocusMode)
	require.NotNil(t, last.FocusDistance)
	assert.Equal(t, 127.5, *last.FocusDistance)

	require.True(t, p.SetManualFocus(ctx, false))
	applied = syn.Tracks()[0].Applied()
	assert.Equal(t, camera.FocusContinuous, applied[len(applied)-1].FocusMode)
	assert.False(t, p.Snapshot().Controls.ManualFocus)
}

func TestOutOfRangeAdjustmentRejected(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	require.True(t, p.SetManualFocus(ctx, true))
	require.True(t, p.AdjustFocus(ctx, 40))
	require.True(t, p.SetManualBrightness(ctx, true))
	require.True(t, p.AdjustBrightness(ctx, 150))

	before := p.Snapshot().Controls
	appliedBefore := len(syn.Tracks()[0].Applied())

	for _, percent := range []float64{-1, 100.5, 150, -300} {
		assert.False(t, p.AdjustFocus(ctx, percent))
	}
	for _, value := range []float64{-0.1, 200.1, 1000} {
		assert.False(t, p.AdjustBrightness(ctx, value))
	}

	assert.Equal(t, before, p.Snapshot().Controls)
	assert.Len(t, syn.Tracks()[0].Applied(), appliedBefore)
}

func TestAdjustmentFailureKeepsValue(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)
	require.True(t, p.SetManualBrightness(ctx, true))

	syn.ApplyErr = camera.ErrUnsupportedConstraint
	assert.False(t, p.AdjustBrightness(ctx, 20))
	assert.Equal(t, float64(100), p.Snapshot().Controls.Brightness)
}

func TestManualToggleFailureKeepsMode(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	syn.ApplyErr = camera.ErrUnsupportedConstraint
	assert.False(t, p.SetManualFocus(ctx, true))
	assert.False(t, p.SetManualBrightness(ctx, true))
	controls := p.Snapshot().Controls
	assert.False(t, controls.ManualFocus)
	assert.False(t, controls.ManualBrightness)
	assert.False(t, p.AdjustFocus(ctx, 10), "still in auto focus")

	syn.ApplyErr = nil
	require.True(t, p.SetManualFocus(ctx, true))

	syn.ApplyErr = camera.ErrUnsupportedConstraint
	assert.False(t, p.SetManualFocus(ctx, false))
	assert.True(t, p.Snapshot().Controls.ManualFocus)
}

func TestManualBrightnessOffLeavesDevice(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	require.True(t, p.SetManualBrightness(ctx, true))
	require.True(t, p.AdjustBrightness(ctx, 30))
	n := len(syn.Tracks()[0].Applied())

	assert.True(t, p.SetManualBrightness(ctx, false))
	assert.Len(t, syn.Tracks()[0].Applied(), n)
	assert.False(t, p.AdjustBrightness(ctx, 40))
	assert.Equal(t, float64(30), p.Snapshot().Controls.Brightness)
}

func TestCaptureThenSaveUsesDefaultCrop(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	frame, err := p.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateEditing, p.State())
	assert.NotEmpty(t, frame.ID)

	want := DefaultCrop(640, 480, DefaultAutoCropArea)
	assert.Equal(t, CropRegion{X: 64, Y: 48, Width: 512, Height: 384}, want)
	assert.Equal(t, want, p.Crop())

	photo, err := p.Save(ctx)
	require.NoError(t, err)

	cropped := decodePNG(t, photo.CroppedImage)
	assert.Equal(t, want.Width, cropped.Bounds().Dx())
	assert.Equal(t, want.Height, cropped.Bounds().Dy())
	assertSameRegion(t, frame.Image, image.Pt(want.X, want.Y), cropped)

	assert.Equal(t, StateStreaming, p.State())
	assert.True(t, p.Crop().Empty())
}

func TestStopIsIdempotent(t *testing.T) {
	syn := camera.NewSynthetic(640, 480)
	p := newTestPipeline(t, syn, 0)
	p.Start(context.Background())

	assert.NotPanics(t, func() {
		p.Stop()
		p.Stop()
	})
	assert.False(t, p.Streaming())
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 0, syn.OpenTracks())
	assert.Equal(t, 1, syn.Closes())

	idle := newTestPipeline(t, camera.NewSynthetic(64, 48), 0)
	assert.NotPanics(t, idle.Stop)
}

func TestDeviceChangeRestartsOnce(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	entered, release := holdOpen(syn, 2)
	p := newTestPipeline(t, syn, 0)

	p.Start(ctx)
	require.True(t, p.SetManualFocus(ctx, true))
	require.True(t, p.SetManualBrightness(ctx, true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.HandleDeviceChange(ctx)
	}()
	<-entered

	// Reacquisition is in flight: the old track is gone and the new profile
	// does not exist yet.
	assert.False(t, p.AdjustFocus(ctx, 10))
	assert.False(t, p.AdjustBrightness(ctx, 10))
	assert.False(t, p.SetManualFocus(ctx, true))
	assert.True(t, syn.Tracks()[0].Closed())

	close(release)
	<-done

	assert.Equal(t, 2, syn.Opens())
	assert.Equal(t, 1, syn.Closes())
	assert.Equal(t, 1, syn.OpenTracks())
	assert.Equal(t, StateStreaming, p.State())

	controls := p.Snapshot().Controls
	assert.False(t, controls.ManualFocus)
	assert.Equal(t, float64(100), controls.Brightness)
	for _, c := range syn.Tracks()[1].Applied() {
		if c.FocusDistance != nil {
			assert.NotEqual(t, float64(25.5), *c.FocusDistance)
		}
	}
}

func TestDeviceChangeKeepsEdit(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(320, 240)
	p := newTestPipeline(t, syn, 0)
	p.Start(ctx)

	frame, err := p.Capture(ctx)
	require.NoError(t, err)
	crop, err := p.MoveCrop(-5, -5)
	require.NoError(t, err)

	p.HandleDeviceChange(ctx)

	assert.Equal(t, StateEditing, p.State())
	got, ok := p.Frame()
	require.True(t, ok)
	assert.Equal(t, frame.ID, got.ID)
	assert.Equal(t, crop, p.Crop())
	assert.True(t, p.Streaming())
}

func TestLastStartWins(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	entered, release := holdOpen(syn, 1)
	p := newTestPipeline(t, syn, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Start(ctx)
	}()
	<-entered

	p.Start(ctx)
	close(release)
	wg.Wait()

	assert.Equal(t, 2, syn.Opens())
	assert.Equal(t, 1, syn.OpenTracks())
	assert.False(t, syn.Tracks()[0].Closed())
	assert.True(t, syn.Tracks()[1].Closed())
	assert.Equal(t, StateStreaming, p.State())
}

func TestMalformedDataURLNeverReachesCallback(t *testing.T) {
	var calls int
	p := New(camera.NewSynthetic(64, 48), Options{SetPhoto: func(Photo) { calls++ }}, zerolog.Nop())

	for _, in := range []string{
		"",
		"iVBORw0KGgo=",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png;base64",
		"data:image/png,AAAA",
		"data:image/png;base64,!!!",
	} {
		_, err := p.Import(in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)

		_, err = p.Save(context.Background())
		assert.ErrorIs(t, err, ErrNotEditing)

		_, err = exportPhoto(in, in)
		assert.ErrorIs(t, err, ErrInvalidDataURL, in)
	}
	assert.Zero(t, calls)
	_, ok := p.LastPhoto()
	assert.False(t, ok)
}

func TestImportThenSave(t *testing.T) {
	src := camera.TestPattern(200, 150)
	dataURL, err := EncodeDataURL(src)
	require.NoError(t, err)

	p := New(camera.NewSynthetic(64, 48), Options{}, zerolog.Nop())
	frame, err := p.Import(dataURL)
	require.NoError(t, err)
	assert.Equal(t, 200, frame.Width())
	assert.Equal(t, StateEditing, p.State())

	photo, err := p.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, p.State())

	crop := DefaultCrop(200, 150, DefaultAutoCropArea)
	assertSameRegion(t, src, image.Pt(crop.X, crop.Y), decodePNG(t, photo.CroppedImage))
}

func TestImportRefusedWhileDisabled(t *testing.T) {
	syn := camera.NewSynthetic(640, 480)
	syn.OpenErr = camera.ErrNoDevice
	p := newTestPipeline(t, syn, 0)
	p.Start(context.Background())
	require.Equal(t, StateDisabled, p.State())

	dataURL, err := EncodeDataURL(camera.TestPattern(200, 150))
	require.NoError(t, err)

	_, err = p.Import(dataURL)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, StateDisabled, p.State())
	assert.False(t, p.CameraAvailable())

	_, err = p.Save(context.Background())
	assert.ErrorIs(t, err, ErrNotEditing)
	p.Cancel()
	assert.Equal(t, StateDisabled, p.State())
	assert.False(t, p.CameraAvailable())

	syn.OpenErr = nil
	p.Start(context.Background())
	_, err = p.Import(dataURL)
	require.NoError(t, err)
	assert.Equal(t, StateEditing, p.State())
}

func TestSaveFailureKeepsEditing(t *testing.T) {
	ctx := context.Background()
	var calls int
	p := New(camera.NewSynthetic(640, 480), Options{SetPhoto: func(Photo) { calls++ }}, zerolog.Nop())
	t.Cleanup(p.Close)
	p.Start(ctx)

	frame, err := p.Capture(ctx)
	require.NoError(t, err)
	crop := p.Crop()

	good := frame.DataURL
	frame.DataURL = "data:image/png;base64"
	_, err = p.Save(ctx)
	assert.ErrorIs(t, err, ErrInvalidDataURL)
	assert.Equal(t, StateEditing, p.State())
	assert.Equal(t, crop, p.Crop())
	assert.Zero(t, calls)
	_, ok := p.LastPhoto()
	assert.False(t, ok)

	frame.DataURL = good
	photo, err := p.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateStreaming, p.State())
	assert.Equal(t, crop.Width, decodePNG(t, photo.CroppedImage).Bounds().Dx())
}

func TestMoveCropSaturates(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, camera.NewSynthetic(640, 480), 0)
	p.Start(ctx)
	_, err := p.Capture(ctx)
	require.NoError(t, err)

	r, err := p.MoveCrop(math.MaxInt, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, 128, r.X)
	assert.Equal(t, 96, r.Y)

	r, err = p.MoveCrop(math.MinInt, math.MinInt)
	require.NoError(t, err)
	assert.Equal(t, 0, r.X)
	assert.Equal(t, 0, r.Y)
}

func TestMoveCropStaysInsideFrame(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, camera.NewSynthetic(640, 480), 0)
	p.Start(ctx)

	_, err := p.MoveCrop(1, 1)
	assert.ErrorIs(t, err, ErrNotEditing)

	_, err = p.Capture(ctx)
	require.NoError(t, err)
	size := p.Crop()

	r, err := p.MoveCrop(-1000, -1000)
	require.NoError(t, err)
	assert.Equal(t, 0, r.X)
	assert.Equal(t, 0, r.Y)

	r, err = p.MoveCrop(10000, 10000)
	require.NoError(t, err)
	assert.Equal(t, 640-size.Width, r.X)
	assert.Equal(t, 480-size.Height, r.Y)
	assert.Equal(t, size.Width, r.Width)
	assert.Equal(t, size.Height, r.Height)
}

func TestCancelReturnsToStream(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, camera.NewSynthetic(640, 480), 0)
	p.Start(ctx)

	_, err := p.Capture(ctx)
	require.NoError(t, err)
	p.Cancel()

	assert.Equal(t, StateStreaming, p.State())
	_, ok := p.Frame()
	assert.False(t, ok)
	_, err = p.Save(ctx)
	assert.ErrorIs(t, err, ErrNotEditing)
}

func TestQuadrantCropEndToEnd(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)

	var (
		mu  sync.Mutex
		got []Photo
	)
	p := New(syn, Options{AutoCropArea: 0.5, SetPhoto: func(ph Photo) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ph)
	}}, zerolog.Nop())
	t.Cleanup(p.Close)

	p.Start(ctx)
	frame, err := p.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, CropRegion{X: 160, Y: 120, Width: 320, Height: 240}, p.Crop())

	r, err := p.SetCropOrigin(0, 0)
	require.NoError(t, err)
	assert.Equal(t, CropRegion{X: 0, Y: 0, Width: 320, Height: 240}, r)

	_, err = p.Save(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	photo := got[0]

	assert.Equal(t, FullImageName, photo.FullImage.Name)
	assert.Equal(t, "image/png", photo.FullImage.MIMEType)
	assert.Equal(t, CroppedImageName, photo.CroppedImage.Name)
	assert.Equal(t, "image/png", photo.CroppedImage.MIMEType)

	full := decodePNG(t, photo.FullImage)
	assert.Equal(t, image.Rect(0, 0, 640, 480), full.Bounds())
	cropped := decodePNG(t, photo.CroppedImage)
	assert.Equal(t, image.Rect(0, 0, 320, 240), cropped.Bounds())
	assertSameRegion(t, frame.Image, image.Pt(0, 0), cropped)

	last, ok := p.LastPhoto()
	require.True(t, ok)
	assert.Equal(t, photo.CroppedImage.Data, last.CroppedImage.Data)
}

type chanNotifier struct {
	events chan camera.DeviceEvent
	closed atomic.Bool
}

func (n *chanNotifier) Events() <-chan camera.DeviceEvent { return n.events }

func (n *chanNotifier) Close() error {
	n.closed.Store(true)
	return nil
}

func TestWatchRestartsOnDeviceEvent(t *testing.T) {
	ctx := context.Background()
	syn := camera.NewSynthetic(640, 480)
	p := New(syn, Options{}, zerolog.Nop())
	p.Start(ctx)

	n := &chanNotifier{events: make(chan camera.DeviceEvent, 1)}
	p.Watch(n)
	n.events <- camera.DeviceEvent{Kind: camera.DeviceAdded, Path: "/dev/video1"}

	require.Eventually(t, func() bool { return syn.Opens() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.State() == StateStreaming }, time.Second, 5*time.Millisecond)

	p.Close()
	assert.True(t, n.closed.Load())
	assert.Equal(t, 0, syn.OpenTracks())
	assert.Equal(t, StateIdle, p.State())
}
