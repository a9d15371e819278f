package db

import "time"

// Track is one row of the tracks table. Only the columns the pipeline
// reads or writes are mapped.
type Track struct {
	ID       string `gorm:"column:id;primaryKey"`
	Title    string `gorm:"column:title"`
	AudioURL string `gorm:"column:audio_url"`

	// Hints used for progress estimation and filtering only.
	DurationSeconds *float64 `gorm:"column:duration_seconds"`
	FileSizeBytes   *int64   `gorm:"column:file_size_bytes"`

	// HLSReadyAt is the completion marker; null means pending.
	HLSReadyAt      *time.Time `gorm:"column:hls_ready_at"`
	HLSPath         *string    `gorm:"column:hls_path"`
	HLSSegmentCount *int       `gorm:"column:hls_segment_count"`
}

func (Track) TableName() string { return "tracks" }

// Done reports whether the track already has an HLS rendition.
func (t *Track) Done() bool { return t.HLSReadyAt != nil }

// SizeHint returns the stored file size, or 0 when unknown.
func (t *Track) SizeHint() int64 {
	if t.FileSizeBytes == nil {
		return 0
	}
	return *t.FileSizeBytes
}
