package permission

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCode(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case code := <-ch:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for permission result")
		return 0
	}
}

func TestStatic(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
	}{
		{"granted", true},
		{"denied", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewStatic(tt.granted)
			assert.Equal(t, tt.granted, g.Check(Camera))

			results := make(chan int, 1)
			g.Request(context.Background(), 10, []Capability{Camera}, func(code int) { results <- code })
			assert.Equal(t, 10, waitCode(t, results))
			assert.Equal(t, tt.granted, AllGranted(g, []Capability{Camera}))
		})
	}
}

func TestDevice_Check(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/video0", nil, 0o660))

	assert.True(t, NewDevice(fs, "/dev/video0").Check(Camera))
	assert.False(t, NewDevice(fs, "/dev/video0", "/dev/video1").Check(Camera), "missing node")
	assert.False(t, NewDevice(fs).Check(Camera), "no nodes configured")
	assert.False(t, NewDevice(fs, "/dev/video0").Check(Capability("microphone")))
}

func TestDevice_RequestStillAnswers(t *testing.T) {
	results := make(chan int, 1)
	NewDevice(afero.NewMemMapFs(), "/dev/video0").Request(context.Background(), 7, []Capability{Camera}, func(code int) { results <- code })
	assert.Equal(t, 7, waitCode(t, results))
}

func TestPrompt_AnswerIsRemembered(t *testing.T) {
	var asked atomic.Int32
	g := NewPrompt(func(title string) (bool, error) {
		asked.Add(1)
		assert.Contains(t, title, "camera")
		return true, nil
	})
	require.False(t, g.Check(Camera), "nothing granted before asking")

	results := make(chan int, 1)
	g.Request(context.Background(), 10, []Capability{Camera}, func(code int) { results <- code })
	require.Equal(t, 10, waitCode(t, results))
	assert.True(t, g.Check(Camera))

	g.Request(context.Background(), 10, []Capability{Camera}, func(code int) { results <- code })
	waitCode(t, results)
	assert.Equal(t, int32(1), asked.Load(), "a granted capability is not asked again")
}

func TestPrompt_DeniedOrFailed(t *testing.T) {
	tests := []struct {
		name    string
		confirm ConfirmFunc
	}{
		{"denied", func(string) (bool, error) { return false, nil }},
		{"dialog_error", func(string) (bool, error) { return true, errors.New("no tty") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPrompt(tt.confirm)
			results := make(chan int, 1)
			g.Request(context.Background(), 10, []Capability{Camera}, func(code int) { results <- code })
			waitCode(t, results)
			assert.False(t, g.Check(Camera))
		})
	}
}

func TestRequest_CancelledContextDropsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := make(chan int, 1)
	NewStatic(true).Request(ctx, 10, []Capability{Camera}, func(code int) { called <- code })
	select {
	case <-called:
		t.Error("callback delivered for a cancelled request")
	case <-time.After(20 * time.Millisecond):
	}
}
