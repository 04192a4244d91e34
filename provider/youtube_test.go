package provider

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"ytaudio/video"

	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	video     *youtube.Video
	videoErr  error
	stream    io.ReadCloser
	streamErr error
	streamed  *youtube.Format
}

func (f *fakeClient) GetVideoContext(ctx context.Context, id string) (*youtube.Video, error) {
	return f.video, f.videoErr
}

func (f *fakeClient) GetStreamContext(ctx context.Context, v *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	f.streamed = format
	return f.stream, 0, f.streamErr
}

func newTestProvider(c client) *YouTube {
	return &YouTube{client: c, logger: zerolog.Nop()}
}

func sampleVideo() *youtube.Video {
	return &youtube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Author:   "Rick Astley",
		Duration: 213 * time.Second,
		Thumbnails: youtube.Thumbnails{
			{URL: "https://i.ytimg.com/small.jpg", Width: 120, Height: 90},
			{URL: "https://i.ytimg.com/large.jpg", Width: 1280, Height: 720},
		},
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Bitrate: 500000, AudioChannels: 2},
			{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 48000, AudioChannels: 2},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
			{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AverageBitrate: 128000, AudioChannels: 2},
		},
	}
}

func TestFetchMetadata(t *testing.T) {
	p := newTestProvider(&fakeClient{video: sampleVideo()})

	meta, err := p.FetchMetadata(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", meta.Title)
	assert.Equal(t, "Rick Astley", meta.Channel)
	assert.Equal(t, "3:33", meta.Duration)
	assert.Equal(t, 213, meta.DurationSeconds)
	assert.Equal(t, "https://i.ytimg.com/large.jpg", meta.Thumbnail)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", meta.URL)
}

func TestFetchMetadataUnknownChannel(t *testing.T) {
	v := sampleVideo()
	v.Author = ""
	v.Thumbnails = nil
	p := newTestProvider(&fakeClient{video: v})

	meta, err := p.FetchMetadata(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, unknownChannel, meta.Channel)
	assert.Empty(t, meta.Thumbnail)
}

func TestFetchMetadataErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"private", youtube.ErrVideoPrivate, video.ErrNotFound},
		{"login", youtube.ErrLoginRequired, video.ErrNotFound},
		{"playability", &youtube.ErrPlayabiltyStatus{Status: "ERROR", Reason: "Video unavailable"}, video.ErrNotFound},
		{"bad id", youtube.ErrInvalidCharactersInVideoID, video.ErrInvalidInput},
		{"network", errors.New("connection reset"), video.ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(&fakeClient{videoErr: tc.err})
			_, err := p.FetchMetadata(context.Background(), "dQw4w9WgXcQ")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("empty title is malformed", func(t *testing.T) {
		v := sampleVideo()
		v.Title = ""
		p := newTestProvider(&fakeClient{video: v})
		_, err := p.FetchMetadata(context.Background(), "dQw4w9WgXcQ")
		assert.ErrorIs(t, err, video.ErrProvider)
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		p := newTestProvider(&fakeClient{videoErr: context.Canceled})
		_, err := p.FetchMetadata(context.Background(), "dQw4w9WgXcQ")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, video.ErrProvider)
	})
}

func TestSelectAudioFormat(t *testing.T) {
	formats := sampleVideo().Formats

	f, err := selectAudioFormat(formats, video.QualityHigh)
	require.NoError(t, err)
	assert.Equal(t, 251, f.ItagNo)

	f, err = selectAudioFormat(formats, video.QualityLow)
	require.NoError(t, err)
	assert.Equal(t, 139, f.ItagNo)

	t.Run("falls back to progressive formats", func(t *testing.T) {
		f, err := selectAudioFormat(formats[:1], video.QualityHigh)
		require.NoError(t, err)
		assert.Equal(t, 18, f.ItagNo)
	})

	t.Run("no audio at all", func(t *testing.T) {
		silent := youtube.FormatList{{ItagNo: 137, MimeType: "video/mp4"}}
		_, err := selectAudioFormat(silent, video.QualityHigh)
		assert.ErrorIs(t, err, video.ErrSourceUnavailable)
	})
}

type failingBody struct {
	data   *strings.Reader
	closed bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if b.data.Len() == 0 {
		return 0, errors.New("stream reset by peer")
	}
	return b.data.Read(p)
}

func (b *failingBody) Close() error {
	b.closed = true
	return nil
}

func TestOpenAudio(t *testing.T) {
	t.Run("mid-stream failure is reported as broken source", func(t *testing.T) {
		body := &failingBody{data: strings.NewReader("partial")}
		fc := &fakeClient{video: sampleVideo(), stream: body}
		p := newTestProvider(fc)

		rc, err := p.OpenAudio(context.Background(), "dQw4w9WgXcQ", video.QualityHigh)
		require.NoError(t, err)
		assert.Equal(t, 251, fc.streamed.ItagNo)

		data, err := io.ReadAll(rc)
		assert.Equal(t, "partial", string(data))
		assert.ErrorIs(t, err, video.ErrSourceBroken)

		require.NoError(t, rc.Close())
		assert.True(t, body.closed)
	})

	t.Run("stream request rejected", func(t *testing.T) {
		p := newTestProvider(&fakeClient{video: sampleVideo(), streamErr: errors.New("403 Forbidden")})
		_, err := p.OpenAudio(context.Background(), "dQw4w9WgXcQ", video.QualityHigh)
		assert.ErrorIs(t, err, video.ErrSourceUnavailable)
	})

	t.Run("lookup failure", func(t *testing.T) {
		p := newTestProvider(&fakeClient{videoErr: errors.New("timeout")})
		_, err := p.OpenAudio(context.Background(), "dQw4w9WgXcQ", video.QualityHigh)
		assert.ErrorIs(t, err, video.ErrSourceUnavailable)
	})

	t.Run("clean EOF is not an error", func(t *testing.T) {
		fc := &fakeClient{video: sampleVideo(), stream: io.NopCloser(strings.NewReader("complete"))}
		p := newTestProvider(fc)
		rc, err := p.OpenAudio(context.Background(), "dQw4w9WgXcQ", video.QualityHigh)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "complete", string(data))
	})
}
