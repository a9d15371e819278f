package storage

import (
	"net/url"
	"path"
	"strings"
)

// ObjectPath normalizes a stored audio locator to a bucket-relative key.
// Track rows hold either a full public URL
// (https://<host>/storage/v1/object/public/<bucket>/<key>) left over from the
// original import, or an already-relative key. Both forms resolve to <key>.
func ObjectPath(locator, bucket string) string {
	if !strings.Contains(locator, "://") {
		return strings.TrimPrefix(locator, "/")
	}

	u, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	p, err := url.PathUnescape(u.Path)
	if err != nil {
		p = u.Path
	}

	marker := "/" + bucket + "/"
	if i := strings.Index(p, marker); i >= 0 {
		return p[i+len(marker):]
	}
	return strings.TrimPrefix(p, "/")
}

// ContentType maps a produced file to the MIME type the player expects.
// HLS playback breaks silently when the manifest is served as binary, so
// the mapping is explicit instead of left to the store's guess.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp3":
		return "audio/mpeg"
	case ".aac", ".m4a":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
