package camera

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickDevice(t *testing.T) {
	front := Device{ID: "front", IsAvailable: true, Facing: FacingUser}
	rear := Device{ID: "rear", IsAvailable: true, Facing: FacingEnvironment}
	busy := Device{ID: "busy", IsAvailable: false, Facing: FacingEnvironment}

	tests := []struct {
		name    string
		devices []Device
		config  StreamConfig
		want    string
		wantErr error
	}{
		{"prefers environment", []Device{front, rear}, StreamConfig{}, "rear", nil},
		{"explicit id wins", []Device{front, rear}, StreamConfig{DeviceID: "front"}, "front", nil},
		{"explicit facing", []Device{front, rear}, StreamConfig{Facing: FacingUser}, "front", nil},
		{"skips unavailable", []Device{busy, front}, StreamConfig{}, "front", nil},
		{"unknown id falls back", []Device{front}, StreamConfig{DeviceID: "gone"}, "front", nil},
		{"nothing available", []Device{busy}, StreamConfig{}, "", ErrNoDevice},
		{"empty", nil, StreamConfig{}, "", ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PickDevice(tt.devices, tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestRange(t *testing.T) {
	r := Range{Min: 10, Max: 30}
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(30))
	assert.False(t, r.Contains(30.5))
	assert.Equal(t, 20.0, r.Mid())
}

func TestSyntheticTrackLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSynthetic(64, 48)

	track, err := s.OpenCamera(ctx, StreamConfig{})
	require.NoError(t, err)
	assert.Equal(t, "synthetic-0", track.Device().ID)

	img, err := track.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	require.NoError(t, track.ApplyConstraints(ctx, Constraints{Brightness: Float(50)}))
	require.NoError(t, track.Close())
	require.NoError(t, track.Close())

	assert.Equal(t, 1, s.Opens())
	assert.Equal(t, 1, s.Closes())

	_, err = track.ReadFrame(ctx)
	assert.ErrorIs(t, err, ErrTrackClosed)
	assert.ErrorIs(t, track.ApplyConstraints(ctx, Constraints{FocusMode: FocusContinuous}), ErrTrackClosed)
}

func TestSyntheticUnsupportedConstraint(t *testing.T) {
	s := NewSynthetic(8, 6)
	s.Capabilities.Brightness = nil

	track, err := s.OpenCamera(context.Background(), StreamConfig{})
	require.NoError(t, err)
	err = track.ApplyConstraints(context.Background(), Constraints{Brightness: Float(1)})
	assert.ErrorIs(t, err, ErrUnsupportedConstraint)
}

func TestSyntheticOpenError(t *testing.T) {
	s := NewSynthetic(8, 6)
	s.OpenErr = ErrPermissionDenied

	_, err := s.OpenCamera(context.Background(), StreamConfig{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, s.Opens())
}

func TestWatcherReportsVideoNodes(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir)
	require.NoError(t, err)
	defer w.Close()

	// Non-video entries are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ttyUSB0"), nil, 0o644))
	node := filepath.Join(dir, "video0")
	require.NoError(t, os.WriteFile(node, nil, 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, DeviceAdded, ev.Kind)
		assert.Equal(t, node, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no device event")
	}

	require.NoError(t, os.Remove(node))
	for {
		select {
		case ev := <-w.Events():
			if ev.Kind == DeviceRemoved {
				assert.Equal(t, node, ev.Path)
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no removal event")
		}
	}
}

func TestWatcherCloseClosesEvents(t *testing.T) {
	w, err := NewWatcher(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}
