package upload

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KeyPrefix is the folder every uploaded video lands in
const KeyPrefix = "videos/"

// ErrInvalidObjectKey is returned for keys not produced by BuildKey
var ErrInvalidObjectKey = errors.New("invalid object key")

// videos/<userId>_<videoId>_<unixTs>_<filename>, videoId being a UUID
var keyPattern = regexp.MustCompile(`^videos/(.+?)_([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})_(\d+)_(.+)$`)

// ObjectKey is the parsed form of an upload key
type ObjectKey struct {
	UserID     string
	VideoID    string
	UploadedAt time.Time
	Filename   string
}

// BuildKey returns the storage key for a new upload
func BuildKey(userID, videoID string, at time.Time, filename string) string {
	return fmt.Sprintf("%s%s_%s_%d_%s", KeyPrefix, userID, videoID, at.Unix(), SanitizeFilename(filename))
}

// ParseKey extracts the ids from a key built by BuildKey. Keys taken from
// bucket notifications are URL-encoded and are decoded first.
func ParseKey(key string) (ObjectKey, error) {
	if decoded, err := url.QueryUnescape(key); err == nil {
		key = decoded
	}

	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return ObjectKey{}, fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}

	ts, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return ObjectKey{}, fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}

	return ObjectKey{
		UserID:     m[1],
		VideoID:    m[2],
		UploadedAt: time.Unix(ts, 0).UTC(),
		Filename:   m[4],
	}, nil
}

// SanitizeFilename drops any directory part and replaces whitespace so the
// name is safe inside an object key.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Join(strings.Fields(name), "-")
}
