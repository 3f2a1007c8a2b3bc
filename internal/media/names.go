package media

import (
	"regexp"
	"strings"
	"time"
)

const (
	// DirPrefix starts every tracked directory name.
	DirPrefix = "tcam_"
	// ImageExt is the extension of single-image files.
	ImageExt = ".tjsn"
	// VideoExt is the extension of video files.
	VideoExt = ".tmjsn"
)

var (
	dirPattern  = regexp.MustCompile(`^tcam_\d{2}_\d{2}_\d{2}$`)
	filePattern = regexp.MustCompile(`^(img_\d{2}_\d{2}_\d{2}\.tjsn|mov_\d{2}_\d{2}_\d{2}\.tmjsn)$`)
)

// DirName returns the dated directory name for t, e.g. "tcam_24_03_14".
func DirName(t time.Time) string {
	return DirPrefix + t.Format("06_01_02")
}

// ImageName returns the single-image file name for t, e.g. "img_10_11_12.tjsn".
func ImageName(t time.Time) string {
	return "img_" + t.Format("15_04_05") + ImageExt
}

// VideoName returns the video file name for t, e.g. "mov_10_11_12.tmjsn".
func VideoName(t time.Time) string {
	return "mov_" + t.Format("15_04_05") + VideoExt
}

// ValidDirName reports whether name is a tracked directory.
func ValidDirName(name string) bool {
	return dirPattern.MatchString(name)
}

// ValidFileName reports whether name is a tracked image or video file.
func ValidFileName(name string) bool {
	return filePattern.MatchString(name)
}

// IsVideo reports whether name is a video file.
func IsVideo(name string) bool {
	return strings.HasSuffix(name, VideoExt)
}
