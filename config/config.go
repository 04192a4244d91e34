// ytaudio/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// minTempFileMaxAge bounds how often stale temp files and finished jobs are
// collected.
const minTempFileMaxAge = time.Minute

// Delivery strategies.
const (
	DeliveryPipe        = "pipe"
	DeliveryMaterialize = "materialize"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	FFBin             string        `mapstructure:"FF_BIN"`
	FFExtraArgs       string        `mapstructure:"FF_EXTRA_ARGS"`
	FFStartTimeout    time.Duration `mapstructure:"FF_START_TIMEOUT"`
	FFTimeout         time.Duration `mapstructure:"FF_TIMEOUT"`
	AudioBitrate      int           `mapstructure:"AUDIO_BITRATE"`
	AudioCodec        string        `mapstructure:"AUDIO_CODEC"`
	Delivery          string        `mapstructure:"DELIVERY"`
	TempDir           string        `mapstructure:"TEMP_DIR"`
	TempFileMaxAge    time.Duration `mapstructure:"TEMP_FILE_MAX_AGE"`
	MaxOutputSize     int64         `mapstructure:"MAX_OUTPUT_SIZE"`
	CopyBufferSize    int64         `mapstructure:"COPY_BUFFER_SIZE"`
	MaxConcurrency    int           `mapstructure:"MAX_CONCURRENCY"`
	ThrottleCPU       float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem   int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk  int64         `mapstructure:"THROTTLE_FREEDISK"`
	ProviderTimeout   time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	FilenameMaxLength int           `mapstructure:"FILENAME_MAX_LENGTH"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
}

// stringToDurationHookFunc parses Go duration strings such as "1h30m".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "32KB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "3000")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("FF_START_TIMEOUT", "30s")
	vp.SetDefault("FF_TIMEOUT", "30m")
	vp.SetDefault("AUDIO_BITRATE", 320)
	vp.SetDefault("AUDIO_CODEC", "libmp3lame")
	vp.SetDefault("DELIVERY", DeliveryPipe)
	vp.SetDefault("TEMP_DIR", filepath.Join(os.TempDir(), "ytaudio"))
	vp.SetDefault("TEMP_FILE_MAX_AGE", "1h")
	vp.SetDefault("MAX_OUTPUT_SIZE", "500MB")
	vp.SetDefault("COPY_BUFFER_SIZE", "32KB")
	vp.SetDefault("MAX_CONCURRENCY", 4)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "100MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("PROVIDER_TIMEOUT", "30s")
	vp.SetDefault("FILENAME_MAX_LENGTH", 200)
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetConfigName("ytaudio_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ytaudio/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("YTAUDIO")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The first hook that converts the value wins.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Delivery {
	case DeliveryPipe, DeliveryMaterialize:
	default:
		return fmt.Errorf("unknown delivery strategy %q (want %q or %q)", c.Delivery, DeliveryPipe, DeliveryMaterialize)
	}
	if c.AudioBitrate <= 0 {
		return fmt.Errorf("audio bitrate must be positive, got %d", c.AudioBitrate)
	}
	if c.AudioCodec == "" {
		return fmt.Errorf("audio codec must not be empty")
	}
	if c.FilenameMaxLength < 8 {
		return fmt.Errorf("filename max length must be at least 8, got %d", c.FilenameMaxLength)
	}
	if c.CopyBufferSize <= 0 {
		return fmt.Errorf("copy buffer size must be positive, got %d", c.CopyBufferSize)
	}
	if c.TempFileMaxAge < minTempFileMaxAge {
		return fmt.Errorf("temp file max age must be at least %s, got %s", minTempFileMaxAge, c.TempFileMaxAge)
	}
	if c.Delivery == DeliveryMaterialize && c.TempDir == "" {
		return fmt.Errorf("materialize delivery needs a temp directory")
	}
	return nil
}
