// Package provider adapts the YouTube client to the metadata and audio
// source contracts the pipeline depends on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"ytaudio/video"

	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
)

const unknownChannel = "Unknown"

// client is the subset of *youtube.Client the provider uses.
type client interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, v *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

type YouTube struct {
	client client
	logger zerolog.Logger
}

// NewYouTube builds a provider whose metadata calls and stream requests time
// out after timeout. Once the stream body is flowing no timeout applies; the
// caller's context bounds it.
func NewYouTube(timeout time.Duration, logger zerolog.Logger) *YouTube {
	hc := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   8,
		},
	}
	return &YouTube{
		client: &youtube.Client{HTTPClient: hc},
		logger: logger.With().Str("component", "provider").Logger(),
	}
}

// FetchMetadata resolves id to title, duration, channel and thumbnail.
func (y *YouTube) FetchMetadata(ctx context.Context, id video.ID) (*video.Metadata, error) {
	v, err := y.client.GetVideoContext(ctx, string(id))
	if err != nil {
		return nil, classify(err)
	}
	if v == nil || v.Title == "" {
		return nil, fmt.Errorf("%w: empty metadata for %s", video.ErrProvider, id)
	}
	return toMetadata(id, v), nil
}

// OpenAudio opens the best audio stream for id according to quality. Read
// errors on the returned stream are reported as video.ErrSourceBroken.
func (y *YouTube) OpenAudio(ctx context.Context, id video.ID, quality video.Quality) (io.ReadCloser, error) {
	v, err := y.client.GetVideoContext(ctx, string(id))
	if err != nil {
		err = classify(err)
		if errors.Is(err, video.ErrProvider) {
			return nil, fmt.Errorf("%w: %w", video.ErrSourceUnavailable, err)
		}
		return nil, err
	}

	format, err := selectAudioFormat(v.Formats, quality)
	if err != nil {
		return nil, err
	}

	y.logger.Debug().
		Str("video_id", string(id)).
		Int("itag", format.ItagNo).
		Str("mime", format.MimeType).
		Int("bitrate", bitrate(format)).
		Msg("selected audio format")

	stream, _, err := y.client.GetStreamContext(ctx, v, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", video.ErrSourceUnavailable, err)
	}
	return &brokenReader{rc: stream}, nil
}

func toMetadata(id video.ID, v *youtube.Video) *video.Metadata {
	channel := v.Author
	if channel == "" {
		channel = unknownChannel
	}

	var thumb string
	if len(v.Thumbnails) > 0 {
		best := v.Thumbnails[0]
		for _, t := range v.Thumbnails[1:] {
			if t.Width*t.Height > best.Width*best.Height {
				best = t
			}
		}
		thumb = best.URL
	}

	return &video.Metadata{
		ID:              id,
		Title:           v.Title,
		Duration:        video.FormatDuration(v.Duration),
		DurationSeconds: int(v.Duration.Seconds()),
		Channel:         channel,
		Thumbnail:       thumb,
		URL:             id.URL(),
		Length:          v.Duration,
	}
}

// selectAudioFormat prefers audio-only formats and falls back to progressive
// formats that carry an audio track.
func selectAudioFormat(formats youtube.FormatList, quality video.Quality) (*youtube.Format, error) {
	var candidates []*youtube.Format
	for i := range formats {
		if strings.HasPrefix(formats[i].MimeType, "audio/") {
			candidates = append(candidates, &formats[i])
		}
	}
	if len(candidates) == 0 {
		for i := range formats {
			if formats[i].AudioChannels > 0 {
				candidates = append(candidates, &formats[i])
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no playable audio format", video.ErrSourceUnavailable)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if quality == video.QualityLow {
			return bitrate(candidates[i]) < bitrate(candidates[j])
		}
		return bitrate(candidates[i]) > bitrate(candidates[j])
	})
	return candidates[0], nil
}

func bitrate(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

// classify maps client errors onto the job error kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return fmt.Errorf("%w: %w", video.ErrInvalidInput, err)
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return fmt.Errorf("%w: %w", video.ErrNotFound, err)
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %w", video.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", video.ErrProvider, err)
}

// brokenReader marks mid-stream failures of the remote body. Those streams are
// single use and cannot be resumed.
type brokenReader struct {
	rc io.ReadCloser
}

func (b *brokenReader) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF && !errors.Is(err, video.ErrSourceBroken) {
		err = fmt.Errorf("%w: %w", video.ErrSourceBroken, err)
	}
	return n, err
}

func (b *brokenReader) Close() error {
	return b.rc.Close()
}
