package duck

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sinkInputs = `Sink Input #12
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #15
	Volume: front-left: 52429 /  80% / -5.81 dB,   front-right: 52429 /  80% / -5.81 dB
	Properties:
		application.name = "theravox"
Sink Input #bogus
	Volume: front-left: 1 / 1%
`

type fakePactl struct {
	mu   sync.Mutex
	list string
	err  error
	sets []string
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if args[0] == "list" {
		return []byte(f.list), f.err
	}
	f.sets = append(f.sets, strings.Join(args[1:], " "))
	return nil, nil
}

func newTestDucker(f *fakePactl) *Ducker {
	d := New([]string{"theravox"}, 10)
	d.run = f.run
	d.step = 0
	return d
}

func TestParseSinkInputs(t *testing.T) {
	t.Parallel()

	got := parseSinkInputs(sinkInputs)
	require.Len(t, got, 2)
	assert.Equal(t, sinkInput{ID: 12, Volume: 100, AppName: "Firefox"}, got[0])
	assert.Equal(t, sinkInput{ID: 15, Volume: 80, AppName: "theravox"}, got[1])
	assert.Empty(t, parseSinkInputs(""))
}

func TestDuckSkipsSelfAndRestores(t *testing.T) {
	t.Parallel()

	f := &fakePactl{list: sinkInputs}
	d := newTestDucker(f)

	require.NoError(t, d.DuckOthers(context.Background(), 0.3, 0))
	assert.Equal(t, []string{"12 30%"}, f.sets)

	// a second duck is a no-op while active
	require.NoError(t, d.DuckOthers(context.Background(), 0.3, 0))
	assert.Len(t, f.sets, 1)

	f.list = strings.Replace(sinkInputs, "100%", "30%", 1)
	require.NoError(t, d.UnduckOthers(context.Background(), 0))
	assert.Equal(t, []string{"12 30%", "12 100%"}, f.sets)
}

func TestDuckRespectsMinimumVolume(t *testing.T) {
	t.Parallel()

	f := &fakePactl{list: sinkInputs}
	d := newTestDucker(f)

	require.NoError(t, d.DuckOthers(context.Background(), 0.01, 0))
	assert.Equal(t, []string{"12 10%"}, f.sets)
}

func TestUnduckWithoutDuckIsNoop(t *testing.T) {
	t.Parallel()

	f := &fakePactl{list: sinkInputs}
	d := newTestDucker(f)
	require.NoError(t, d.UnduckOthers(context.Background(), 0))
	assert.Empty(t, f.sets)
}

func TestDuckListFailure(t *testing.T) {
	t.Parallel()

	f := &fakePactl{err: errors.New("no pulse")}
	d := newTestDucker(f)
	err := d.DuckOthers(context.Background(), 0.3, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pactl list sink-inputs")
}

func TestClampVolume(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, clampVolume(-5))
	assert.Equal(t, maxVolume, clampVolume(400))
	assert.Equal(t, 42, clampVolume(42))
}
