package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"theravox/internal/domain"
)

type fakeSession struct {
	calls    []string
	tts      bool
	provider domain.ProviderID
	err      error
}

func (f *fakeSession) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	return f.err
}

func (f *fakeSession) Stop(context.Context) error {
	f.calls = append(f.calls, "stop")
	return f.err
}

func (f *fakeSession) Toggle(context.Context) error {
	f.calls = append(f.calls, "toggle")
	return f.err
}

func (f *fakeSession) SetTTS(_ context.Context, on bool) error {
	f.calls = append(f.calls, "tts")
	f.tts = on
	return f.err
}

func (f *fakeSession) SetProvider(_ context.Context, id domain.ProviderID) error {
	f.calls = append(f.calls, "provider")
	f.provider = id
	return f.err
}

func (f *fakeSession) Status(context.Context) (domain.Status, error) {
	return domain.Status{Phase: domain.PhaseIdle, Provider: f.provider, TTSEnabled: f.tts}, nil
}

func TestHandlerDispatch(t *testing.T) {
	t.Parallel()

	s := &fakeSession{}
	h := NewHandler(s)
	ctx := context.Background()

	for _, cmd := range []string{"start", "STOP", " toggle ", "status"} {
		_, err := h(ctx, cmd, "")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"start", "stop", "toggle"}, s.calls)

	st, err := h(ctx, "tts", "on")
	require.NoError(t, err)
	assert.True(t, st.TTSEnabled)

	st, err = h(ctx, "provider", "huggingface")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderID("huggingface"), st.Provider)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	t.Parallel()

	h := NewHandler(&fakeSession{})
	ctx := context.Background()

	_, err := h(ctx, "dance", "")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = h(ctx, "tts", "maybe")
	assert.Error(t, err)

	_, err = h(ctx, "provider", "")
	assert.Error(t, err)
}

func TestHandlerPropagatesSessionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("already listening")
	h := NewHandler(&fakeSession{err: boom})
	_, err := h(context.Background(), "start", "")
	assert.ErrorIs(t, err, boom)
}

func TestSplit(t *testing.T) {
	t.Parallel()

	cmd, arg := Split("  tts   on ")
	assert.Equal(t, "tts", cmd)
	assert.Equal(t, "on", arg)

	cmd, arg = Split("start")
	assert.Equal(t, "start", cmd)
	assert.Empty(t, arg)
}
