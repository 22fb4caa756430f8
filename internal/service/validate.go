package service

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/sannti97/superstreamer/internal/jobs"
)

// validateTranscode checks a transcode submission before any side effect.
// Every failure is ERR_INVALID_REQUEST surfaced synchronously to the caller.
func validateTranscode(req TranscodeRequest) error {
	if len(req.Inputs) == 0 {
		return invalid("at least one input is required")
	}
	if len(req.Streams) == 0 {
		return invalid("at least one stream is required")
	}
	if req.SegmentSize < 0 {
		return invalid("segment size must not be negative")
	}

	for i, input := range req.Inputs {
		if err := validateSourcePath(input.Path); err != nil {
			return err.(*jobs.Error).WithContext("input", i)
		}
		switch input.Kind {
		case jobs.InputVideo:
			// height is optional
		case jobs.InputAudio:
			if err := validateLanguage(input.Language, false); err != nil {
				return err.(*jobs.Error).WithContext("input", i)
			}
		case jobs.InputText:
			if err := validateLanguage(input.Language, true); err != nil {
				return err.(*jobs.Error).WithContext("input", i)
			}
		default:
			return invalid(fmt.Sprintf("unknown input type %q", input.Kind)).WithContext("input", i)
		}
	}

	for i, stream := range req.Streams {
		switch stream.Kind {
		case jobs.StreamVideo:
			if stream.Codec == "" {
				return invalid("video stream requires a codec").WithContext("stream", i)
			}
			if stream.Height <= 0 {
				return invalid("video stream requires a height").WithContext("stream", i)
			}
		case jobs.StreamAudio:
			if stream.Codec == "" {
				return invalid("audio stream requires a codec").WithContext("stream", i)
			}
			if err := validateLanguage(stream.Language, false); err != nil {
				return err.(*jobs.Error).WithContext("stream", i)
			}
		case jobs.StreamText:
			if err := validateLanguage(stream.Language, true); err != nil {
				return err.(*jobs.Error).WithContext("stream", i)
			}
		default:
			return invalid(fmt.Sprintf("unknown stream type %q", stream.Kind)).WithContext("stream", i)
		}
	}
	return nil
}

func validatePackage(req PackageRequest) error {
	if strings.TrimSpace(req.AssetID) == "" {
		return invalid("assetId is required")
	}
	if req.SegmentSize < 0 {
		return invalid("segment size must not be negative")
	}
	return validateLanguage(req.Language, false)
}

// validateSourcePath accepts the remote schemes the source resolution
// service understands. Local paths never reach the executors.
func validateSourcePath(path string) error {
	if strings.HasPrefix(path, "http://") ||
		strings.HasPrefix(path, "https://") ||
		strings.HasPrefix(path, "s3://") {
		return nil
	}
	return invalid(fmt.Sprintf("source path %q must start with http(s):// or s3://", path))
}

func validateLanguage(code string, required bool) error {
	if code == "" {
		if required {
			return invalid("language is required")
		}
		return nil
	}
	if _, err := language.Parse(code); err != nil {
		return invalid(fmt.Sprintf("invalid language code %q", code))
	}
	return nil
}

func invalid(message string) *jobs.Error {
	return jobs.NewError(jobs.ErrInvalidRequest, message)
}
