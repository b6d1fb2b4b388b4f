// captionclient streams a WAV file through the transcription pipeline and
// prints the captions the relay sends back. It exercises the full client
// half: framing, the duplex channel, and the event stream.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"conference-transcription-service/internal/config"
	"conference-transcription-service/internal/frame"
	"conference-transcription-service/internal/models"
	"conference-transcription-service/internal/observability/logging"
	"conference-transcription-service/internal/session"
)

// Standard PCM WAV files carry a 44 byte header.
const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080", "Service base URL")
	room := flag.String("room", "demo-room", "Room name")
	identity := flag.String("identity", "caption-client", "Participant identity")
	label := flag.String("label", "", "Display label for transcript lines")
	realtime := flag.Bool("realtime", true, "Pace frames at capture speed")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", Service: "captionclient"})
	log := logging.Logger()

	cfg := config.Load()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("open audio file")
	}
	defer f.Close()

	sampleRate, err := readWAVHeader(f, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid WAV file")
	}

	wsURL, err := transcriptionURL(*serverURL, *room, *identity, *label)
	if err != nil {
		log.Fatal().Err(err).Msg("bad server URL")
	}

	done := make(chan struct{})
	sess := session.New(session.Config{
		URL:                  wsURL,
		QueueCapacity:        cfg.Session.QueueCapacity,
		ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
		ReconnectBackoff:     cfg.Session.ReconnectBackoff,
		ReconnectMaxBackoff:  cfg.Session.ReconnectMaxBackoff,
		DialTimeout:          cfg.Session.DialTimeout,
	}, nil, func(msg models.ServerMessage) {
		printCaption(msg)
		if msg.Terminal {
			close(done)
		}
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer sess.Close()

	src := &wavSource{
		r:          f,
		samples:    cfg.Session.FrameSamples,
		sampleRate: sampleRate,
		realtime:   *realtime,
	}
	producer := frame.NewProducer(src, sess, sampleRate, log)

	log.Info().Str("room", *room).Str("identity", *identity).Int("sampleRate", sampleRate).
		Msg("streaming audio")

	if err := producer.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("streaming failed")
	}

	log.Info().Uint64("framesSent", producer.Frames()).Uint64("framesDropped", sess.Dropped()).
		Msg("audio finished, waiting for trailing captions")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// readWAVHeader validates the file and returns its sample rate.
func readWAVHeader(f *os.File, log zerolog.Logger) (int, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV header")

	if audioFormat != 1 {
		return 0, fmt.Errorf("only PCM format supported, got %d", audioFormat)
	}
	if numChannels != 1 {
		return 0, fmt.Errorf("%w: got %d channels", frame.ErrChannelCount, numChannels)
	}
	if bitsPerSample != 16 {
		return 0, fmt.Errorf("only 16-bit samples supported, got %d", bitsPerSample)
	}
	return int(sampleRate), nil
}

func transcriptionURL(base, room, identity, label string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/v1/transcription"
	q := u.Query()
	q.Set("room", room)
	q.Set("identity", identity)
	if label != "" {
		q.Set("label", label)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// wavSource reads 16-bit PCM from the file and yields float windows, paced
// at capture speed when realtime is set.
type wavSource struct {
	r          io.Reader
	samples    int
	sampleRate int
	realtime   bool
	buf        []byte
}

func (s *wavSource) Next(ctx context.Context) ([]float32, error) {
	if s.buf == nil {
		s.buf = make([]byte, s.samples*2)
	}
	n, err := io.ReadFull(s.r, s.buf)
	if err == io.ErrUnexpectedEOF {
		err = nil // final short window
	}
	if err != nil {
		return nil, err
	}

	ints := frame.DecodePCM16(s.buf[:n])
	out := make([]float32, len(ints))
	for i, v := range ints {
		out[i] = float32(v) / 32768
	}

	if s.realtime {
		window := time.Duration(len(ints)) * time.Second / time.Duration(s.sampleRate)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(window):
		}
	}
	return out, nil
}

func printCaption(msg models.ServerMessage) {
	switch msg.Type {
	case models.MessageTranscription:
		marker := " "
		if msg.IsFinal {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s\n", marker, msg.Sequence, msg.Text)
	case models.MessageError:
		fmt.Printf("! %s (terminal=%v)\n", msg.Message, msg.Terminal)
	}
}
