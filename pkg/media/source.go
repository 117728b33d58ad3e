package media

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// BuildSourceDescription renders the platform-aware source element selection
// the component design calls for. No media framework binding consumes this
// string directly (see DESIGN.md), and nothing in this module calls it; it
// documents the platform-selection contract so that a binding can consume
// it unchanged.
//
//   - "/dev/videoN"  -> v4l2src on Linux, avfvideosrc on macOS
//   - "rpi" or "libcamera" -> libcamerasrc
//   - "avf[:index]"  -> avfvideosrc with optional device-index property
//   - anything else  -> autovideosrc
func BuildSourceDescription(videoSource string) string {
	switch {
	case strings.HasPrefix(videoSource, "/dev/video"):
		if runtime.GOOS == "darwin" {
			return fmt.Sprintf("avfvideosrc device-index=%s", strings.TrimPrefix(videoSource, "/dev/video"))
		}
		return fmt.Sprintf("v4l2src device=%s", videoSource)

	case videoSource == "rpi" || videoSource == "libcamera":
		return "libcamerasrc"

	case strings.HasPrefix(videoSource, "avf"):
		rest := strings.TrimPrefix(videoSource, "avf")
		rest = strings.TrimPrefix(rest, ":")
		if rest == "" {
			return "avfvideosrc"
		}
		if _, err := strconv.Atoi(rest); err != nil {
			return "avfvideosrc"
		}
		return fmt.Sprintf("avfvideosrc device-index=%s", rest)

	default:
		return "autovideosrc"
	}
}
