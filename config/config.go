// Package config resolves the pipeline's configuration from the
// environment. Every credential is required; the process refuses to start
// without them rather than failing mid-run.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the full runtime configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	Source SourceStorage
	Dest   DestStorage

	FFmpegPath     string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFmpegTimeout  time.Duration `envconfig:"FFMPEG_TIMEOUT" default:"30m"`
	SegmentSeconds int           `envconfig:"HLS_SEGMENT_SECONDS" default:"10"`
	AudioBitrate   string        `envconfig:"HLS_AUDIO_BITRATE" default:"128k"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
}

// SourceStorage is the Supabase Storage side, reached over its
// S3-compatible endpoint.
type SourceStorage struct {
	ProjectURL string `envconfig:"SUPABASE_URL" required:"true"`
	AccessKey  string `envconfig:"SUPABASE_S3_ACCESS_KEY" required:"true"`
	SecretKey  string `envconfig:"SUPABASE_S3_SECRET_KEY" required:"true"`
	Region     string `envconfig:"SUPABASE_S3_REGION" default:"us-east-1"`
	Bucket     string `envconfig:"SUPABASE_AUDIO_BUCKET" default:"audio-files"`
}

// Endpoint returns the S3 gateway for the project.
func (s SourceStorage) Endpoint() string {
	return s.ProjectURL + "/storage/v1/s3"
}

// DestStorage is the Cloudflare R2 side serving the CDN.
type DestStorage struct {
	AccountID     string `envconfig:"R2_ACCOUNT_ID" required:"true"`
	AccessKey     string `envconfig:"R2_ACCESS_KEY_ID" required:"true"`
	SecretKey     string `envconfig:"R2_SECRET_ACCESS_KEY" required:"true"`
	Bucket        string `envconfig:"R2_BUCKET" default:"focus-music-hls"`
	PublicBaseURL string `envconfig:"R2_PUBLIC_BASE_URL" required:"true"`
}

// Endpoint returns the account-scoped R2 endpoint.
func (d DestStorage) Endpoint() string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", d.AccountID)
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
