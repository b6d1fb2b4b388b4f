package frame

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// ErrChannelCount is returned by sources that encounter multi-channel input.
var ErrChannelCount = errors.New("audio source must be single-channel")

// Producer reads float windows from a Source, converts them to 16-bit PCM
// and pushes frames to a Sink in capture order. It does not retry the source:
// once the source fails or is exhausted the producer signals end-of-stream
// and stops.
type Producer struct {
	src        Source
	sink       Sink
	sampleRate int
	log        zerolog.Logger

	seq uint64
}

// NewProducer creates a producer for the given source and sink.
func NewProducer(src Source, sink Sink, sampleRate int, log zerolog.Logger) *Producer {
	return &Producer{
		src:        src,
		sink:       sink,
		sampleRate: sampleRate,
		log:        log,
	}
}

// Run captures frames until the source ends, the source fails, or ctx is
// cancelled. It always signals end-of-stream to the sink before returning.
// The returned error is nil on normal exhaustion (io.EOF from the source).
func (p *Producer) Run(ctx context.Context) error {
	defer p.sink.Finish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		samples, err := p.src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debug().Uint64("frames", p.seq).Msg("audio source exhausted")
				return nil
			}
			p.log.Warn().Err(err).Msg("audio source failed, stopping capture")
			return err
		}
		if len(samples) == 0 {
			continue
		}

		f := Frame{
			Seq:        p.seq,
			SampleRate: p.sampleRate,
			PCM:        EncodePCM16(samples),
		}
		p.seq++

		if err := p.sink.Send(f); err != nil {
			return err
		}
	}
}

// Frames returns the number of frames emitted so far.
func (p *Producer) Frames() uint64 {
	return p.seq
}
