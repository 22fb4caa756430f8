package jobs

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultPackageName is the package name used when a caller provides none.
	DefaultPackageName = "hls"
	// DefaultSegmentSize is the transcode segment size in seconds when a
	// caller provides none.
	DefaultSegmentSize = 4
)

// ResolveTranscode computes the dedup identity of a transcode request and
// returns the normalized payload. A missing asset id yields a fresh UUID, so
// two anonymous submissions never collide. Identity is caller-declared or
// generated, never derived from input contents.
func ResolveTranscode(p TranscodePayload) (string, TranscodePayload) {
	if strings.TrimSpace(p.AssetID) == "" {
		p.AssetID = uuid.NewString()
	}
	if p.SegmentSize <= 0 {
		p.SegmentSize = DefaultSegmentSize
	}
	return p.AssetID, p
}

// ResolvePackage computes the dedup identity of a package request, the pair
// of asset id and package name, and returns the normalized payload.
func ResolvePackage(p PackagePayload) (string, PackagePayload) {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultPackageName
	}
	return PackageIdentity(p.AssetID, p.Name), p
}

// PackageIdentity joins the pair with a NUL so asset ids containing the
// visible separator can never collide with a different pair.
func PackageIdentity(assetID, name string) string {
	return assetID + "\x00" + name
}
