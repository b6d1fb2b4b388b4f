// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"conference-transcription-service/internal/stt"
)

// Config holds the recognition parameters for one streaming call.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	UseEnhanced    bool
}

// DefaultConfig returns settings for conference speech over the browser
// capture path.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Model:          "latest_long",
		UseEnhanced:    true,
	}
}

// parseAudioEncoding maps an encoding name to the protobuf enum.
// Unknown values fall back to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
	closed bool
}

// New creates an adapter sharing the given client. The client is owned by the
// caller and survives individual streaming calls.
func New(client *speech.Client, cfg Config) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Factory returns an stt.Factory that opens one streaming call per invocation
// against a shared client.
func Factory(client *speech.Client, cfg Config) stt.Factory {
	return func(ctx context.Context) (stt.Adapter, error) {
		a := New(client, cfg)
		return a, nil
	}
}

// Start opens the streaming call, sends the recognition config as the first
// message and spawns the receive loop.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	a.mu.Unlock()

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz:            int32(a.cfg.SampleRateHz),
					LanguageCode:               a.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
					Model:                      a.cfg.Model,
					UseEnhanced:                a.cfg.UseEnhanced,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return err
	}

	go a.listen(stream, cb)
	return nil
}

// SendAudio forwards an audio chunk on the open stream.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return stt.ErrNotStarted
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the audio direction. Google flushes any pending final
// result before ending the response stream.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.stream != nil {
		return a.stream.CloseSend()
	}
	return nil
}

// listen receives responses until the stream ends and reduces each result to
// its best alternative.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				cb.OnError(err)
			}
			return
		}

		for _, r := range resp.Results {
			alt := bestAlternative(r.Alternatives)
			if alt == nil {
				continue
			}
			if r.IsFinal {
				cb.OnFinal(alt.Transcript, float64(alt.Confidence))
			} else {
				cb.OnPartial(alt.Transcript)
			}
		}
	}
}

// bestAlternative picks the alternative with the highest confidence, or the
// first one when the backend reports no confidence scores.
func bestAlternative(alts []*speechpb.SpeechRecognitionAlternative) *speechpb.SpeechRecognitionAlternative {
	if len(alts) == 0 {
		return nil
	}
	best := alts[0]
	for _, alt := range alts[1:] {
		if alt.Confidence > best.Confidence {
			best = alt
		}
	}
	return best
}
