package db

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/focusmusic/hls-pipeline/retry"
)

// pageSize keeps each select under the row-count cap the hosted Postgres
// applies to a single query. The full result set is accumulated in memory;
// the catalog tops out in the tens of thousands of rows.
const pageSize = 1000

// Filter narrows which tracks FetchPending returns.
type Filter struct {
	// TrackID selects a single track when set.
	TrackID string

	// Limit caps the returned slice; zero means no cap.
	Limit int

	// MinSizeBytes drops tracks with a smaller (or unknown) stored size.
	MinSizeBytes int64

	// IncludeDone bypasses the completion-marker filter (the --force path).
	IncludeDone bool
}

// FetchPending returns the tracks still needing an HLS rendition, paging
// through the table in id order.
func (c *Client) FetchPending(ctx context.Context, f Filter) ([]Track, error) {
	var all []Track
	for offset := 0; ; offset += pageSize {
		q := c.db.WithContext(ctx).Model(&Track{}).Order("id")
		if !f.IncludeDone {
			q = q.Where("hls_ready_at IS NULL")
		}
		if f.TrackID != "" {
			q = q.Where("id = ?", f.TrackID)
		}
		if f.MinSizeBytes > 0 {
			q = q.Where("file_size_bytes >= ?", f.MinSizeBytes)
		}

		var page []Track
		if err := q.Limit(pageSize).Offset(offset).Find(&page).Error; err != nil {
			return nil, pkgerrors.Wrap(err, "fetching pending tracks")
		}
		all = append(all, page...)

		if len(page) < pageSize {
			break
		}
		if f.Limit > 0 && len(all) >= f.Limit {
			break
		}
	}

	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

// MarkDone records a confirmed upload on the track row: completion
// timestamp, destination manifest path, and segment count. Transient
// failures are retried with a fixed delay; an unknown id is not.
func (c *Client) MarkDone(ctx context.Context, trackID, hlsPath string, segments int) error {
	backoff := c.backoff
	if backoff == nil {
		backoff = retry.Constant(markDoneDelay)
	}
	p := retry.Policy{
		MaxAttempts: 3,
		Backoff:     backoff,
		Retryable:   func(err error) bool { return !errors.Is(err, ErrTrackNotFound) },
	}

	return retry.Do(ctx, p, func() error {
		res := c.db.WithContext(ctx).Model(&Track{}).
			Where("id = ?", trackID).
			Updates(map[string]interface{}{
				"hls_ready_at":      time.Now().UTC(),
				"hls_path":          hlsPath,
				"hls_segment_count": segments,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTrackNotFound
		}
		return nil
	})
}
