package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/BioHazard786/slotmesh/internal/errs"
	"github.com/BioHazard786/slotmesh/internal/identity"
	"github.com/BioHazard786/slotmesh/internal/logging"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var errEmptyMedia = errors.New("media file has no samples")

const (
	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

// Source acquires the local capture. Acquire failures are fatal to a join.
type Source interface {
	Acquire(ctx context.Context) (*LocalStream, error)
}

// LocalStream is the local capture shared read-only by every outgoing
// connection. Only its owner stops it.
type LocalStream struct {
	ID     string
	tracks []webrtc.TrackLocal

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closers  []io.Closer
}

func NewLocalStream(id string, tracks ...webrtc.TrackLocal) *LocalStream {
	return &LocalStream{ID: id, tracks: tracks}
}

func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

// Stop ends sample pumping and releases files. Safe to call more than once.
func (s *LocalStream) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		for _, c := range s.closers {
			_ = c.Close()
		}
	})
}

// TrackSource produces an Opus audio and a VP8 video track. When files are
// configured their samples are paced onto the tracks in a loop; otherwise
// the tracks are negotiated but silent.
type TrackSource struct {
	VideoFile string // IVF container, VP8
	AudioFile string // Ogg container, Opus
	NoVideo   bool
}

func (t *TrackSource) Acquire(ctx context.Context) (*LocalStream, error) {
	l := logging.For("media")
	streamID := "slotmesh-" + identity.Generate()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, errs.New("create audio track", errs.Join(errs.ErrMediaAcquisition, err))
	}
	tracks := []webrtc.TrackLocal{audio}

	var video *webrtc.TrackLocalStaticSample
	if !t.NoVideo {
		video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, errs.New("create video track", errs.Join(errs.ErrMediaAcquisition, err))
		}
		tracks = append(tracks, video)
	}

	stream := NewLocalStream(streamID, tracks...)

	var audioFile, videoFile *os.File
	if t.AudioFile != "" {
		if audioFile, err = os.Open(t.AudioFile); err != nil {
			return nil, errs.Wrap("open audio", errs.Join(errs.ErrMediaAcquisition, err), t.AudioFile)
		}
		stream.closers = append(stream.closers, audioFile)
	}
	if t.VideoFile != "" && video != nil {
		if videoFile, err = os.Open(t.VideoFile); err != nil {
			stream.Stop()
			return nil, errs.Wrap("open video", errs.Join(errs.ErrMediaAcquisition, err), t.VideoFile)
		}
		stream.closers = append(stream.closers, videoFile)
	}
	if audioFile != nil {
		if err := checkOgg(audioFile); err != nil {
			stream.Stop()
			return nil, errs.Wrap("read audio", errs.Join(errs.ErrMediaAcquisition, err), t.AudioFile)
		}
	}
	if videoFile != nil {
		if err := checkIVF(videoFile); err != nil {
			stream.Stop()
			return nil, errs.Wrap("read video", errs.Join(errs.ErrMediaAcquisition, err), t.VideoFile)
		}
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream.cancel = cancel

	if audioFile != nil {
		stream.wg.Add(1)
		go func() {
			defer stream.wg.Done()
			if err := pumpOgg(pumpCtx, audioFile, audio); err != nil {
				l.Warn().Err(err).Str("file", t.AudioFile).Msg("audio pump stopped")
			}
		}()
	}
	if videoFile != nil {
		stream.wg.Add(1)
		go func() {
			defer stream.wg.Done()
			if err := pumpIVF(pumpCtx, videoFile, video); err != nil {
				l.Warn().Err(err).Str("file", t.VideoFile).Msg("video pump stopped")
			}
		}()
	}

	l.Info().Str("stream", streamID).Int("tracks", len(tracks)).Msg("local media acquired")
	return stream, nil
}

// checkIVF reads the container header so a bad file fails the join
// instead of a pump goroutine. The file is left rewound.
func checkIVF(f *os.File) error {
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return errors.New("ivf header has zero timebase")
	}
	_, err = f.Seek(0, io.SeekStart)
	return err
}

func checkOgg(f *os.File) error {
	if _, _, err := oggreader.NewWith(f); err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

func pumpIVF(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			return fmt.Errorf("read ivf header: %w", err)
		}
		if header.TimebaseDenominator == 0 {
			return errors.New("ivf header has zero timebase")
		}
		frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))

		ticker := time.NewTicker(frameDuration)
		written := 0
		for {
			frame, _, err := ivf.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				return err
			}
			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				ticker.Stop()
				return err
			}
			written++
			select {
			case <-ctx.Done():
				ticker.Stop()
				return nil
			case <-ticker.C:
			}
		}
		ticker.Stop()
		if written == 0 {
			return errEmptyMedia
		}
	}
}

func pumpOgg(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			return fmt.Errorf("read ogg header: %w", err)
		}

		var lastGranule uint64
		ticker := time.NewTicker(oggPageDuration)
		written := 0
		for {
			page, header, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				return err
			}
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples) / opusClockRate * float64(time.Second))
			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				ticker.Stop()
				return err
			}
			written++
			select {
			case <-ctx.Done():
				ticker.Stop()
				return nil
			case <-ticker.C:
			}
		}
		ticker.Stop()
		if written == 0 {
			return errEmptyMedia
		}
	}
}
