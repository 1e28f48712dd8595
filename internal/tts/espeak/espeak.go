package espeak

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static short *pcm_buf;
static size_t pcm_len, pcm_cap;

static int
collect(short *wav, int n, espeak_EVENT *events)
{
	(void)events;
	if (!wav || n <= 0)
	{ return 0; }

	if (pcm_len + n > pcm_cap)
	{
		size_t cap = pcm_cap ? pcm_cap : 16384;
		while (cap < pcm_len + n)
		{ cap *= 2; }
		short *p = realloc(pcm_buf, cap * sizeof(short));
		if (!p)
		{ return 1; }
		pcm_buf = p;
		pcm_cap = cap;
	}

	memcpy(pcm_buf + pcm_len, wav, n * sizeof(short));
	pcm_len += n;
	return 0;
}

int
espeak_render(const char *text, const char *lang, int rate)
{
	if (!text)
	{ return -1; }

	int sample_rate = espeak_Initialize(AUDIO_OUTPUT_SYNCHRONOUS, 500, NULL, 0);
	if (sample_rate <= 0)
	{ return -1; }

	espeak_SetSynthCallback(collect);
	espeak_VOICE specs = { .languages = lang };
	espeak_SetVoiceByProperties(&specs);
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	pcm_len = 0;
	espeak_ERROR rc = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	espeak_Synchronize();
	espeak_Terminate();

	if (rc != EE_OK)
	{ return -2; }
	return sample_rate;
}

short *pcm_data(void) { return pcm_buf; }
size_t pcm_size(void) { return pcm_len; }

void
pcm_release(void)
{
	free(pcm_buf);
	pcm_buf = NULL;
	pcm_len = pcm_cap = 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	log "log/slog"

	"theravox/internal/domain"
	"theravox/internal/tts"
)

// espeak-ng keeps global state; one render at a time.
var mu sync.Mutex

// Synth is the offline fallback synthesizer. It renders with libespeak-ng
// into a wav file.
type Synth struct {
	Language string
	Rate     int
	OutDir   string
}

func New(language string) *Synth {
	if language == "" {
		language = "en"
	}
	return &Synth{Language: language, OutDir: os.TempDir()}
}

func (s *Synth) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	if text == "" {
		return "", domain.ErrSynthesisEmptyOutput
	}
	if err := ctx.Err(); err != nil {
		return "", domain.NewError(domain.KindTimeout, err)
	}

	samples, rate, err := render(text, s.Language, s.Rate)
	if err != nil {
		return "", domain.NewError(domain.KindSynthesisFailed, err)
	}

	ref, err := tts.WriteWAV(s.OutDir, samples, rate)
	if err != nil {
		return "", err
	}
	log.Debug("Synthesized speech offline", "path", ref, "samples", len(samples), "rate", rate)
	return ref, nil
}

func render(text, language string, rate int) ([]int16, int, error) {
	mu.Lock()
	defer mu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	clang := C.CString(language)
	defer C.free(unsafe.Pointer(clang))

	rc := C.espeak_render(ctext, clang, C.int(rate))
	defer C.pcm_release()
	if rc <= 0 {
		return nil, 0, fmt.Errorf("espeak_render failed: %d", int(rc))
	}

	n := int(C.pcm_size())
	if n == 0 {
		return nil, int(rc), nil
	}
	raw := unsafe.Slice((*int16)(unsafe.Pointer(C.pcm_data())), n)
	return append([]int16(nil), raw...), int(rc), nil
}
