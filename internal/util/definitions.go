package util

// rendition tier names
const (
	TierThumbnail = "thumbnail"
	TierDisplay   = "display"
	TierDetail    = "detail"
	TierOriginal  = "original"
)

// rendition bounding boxes (px) and jpeg qualities
const (
	ThumbnailBox     int = 400
	ThumbnailQuality int = 75
	DisplayBox       int = 800
	DisplayQuality   int = 85
	DetailBox        int = 900
	DetailQuality    int = 90
	OriginalQuality  int = 95
)

// size ceilings for uploaded sources
const (
	MaxFileBytes   int64 = 25 << 20  // per file
	MaxUploadBytes int64 = 500 << 20 // whole multipart body
	MaxPixels      int   = 100_000_000
)

// AdminCookieName is the cookie carrying the admin session token.
const AdminCookieName = "admin-token"

// ImageCacheControl is the cache policy for immutable rendition files.
const ImageCacheControl = "public, max-age=31536000, immutable"
