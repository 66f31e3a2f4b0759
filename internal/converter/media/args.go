package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/feichai0017/file-converter/internal/converter"
	"github.com/feichai0017/file-converter/internal/options"
)

// Profile is the kind of ffmpeg job a tool runs.
type Profile string

const (
	ProfileRemux     Profile = "remux"
	ProfileTranscode Profile = "transcode"
	ProfileGIF       Profile = "gif"
	ProfileTrim      Profile = "trim"
	ProfileCompress  Profile = "compress"
	ProfileRotate    Profile = "rotate"
	ProfileAudio     Profile = "audio"
)

// Params come from the tool's catalog entry.
type Params struct {
	Profile    Profile `yaml:"profile"`
	Format     string  `yaml:"format"`
	VideoCodec string  `yaml:"videoCodec"`
	AudioCodec string  `yaml:"audioCodec"`
	NoVideo    bool    `yaml:"noVideo"`
}

func (p Params) validate() error {
	switch p.Profile {
	case ProfileRemux, ProfileTranscode, ProfileGIF, ProfileCompress, ProfileAudio:
		if p.Format == "" {
			return fmt.Errorf("ffmpeg profile %s needs a format", p.Profile)
		}
	case ProfileTrim, ProfileRotate:
	default:
		return fmt.Errorf("unknown ffmpeg profile %q", p.Profile)
	}
	if _, ok := formatExt[p.Format]; p.Format != "" && !ok {
		return fmt.Errorf("unknown ffmpeg format %q", p.Format)
	}
	return nil
}

// formatExt maps ffmpeg muxer names onto file extensions.
var formatExt = map[string]string{
	"mov":  ".mov",
	"mp4":  ".mp4",
	"gif":  ".gif",
	"mp3":  ".mp3",
	"wav":  ".wav",
	"adts": ".aac",
	"ipod": ".m4a",
}

var videoBitrates = map[string]string{
	"low":    "500k",
	"medium": "1000k",
	"high":   "2500k",
}

var rotations = map[string]string{
	"90":     "transpose=1",
	"180":    "transpose=1,transpose=1",
	"270":    "transpose=2",
	"flip-h": "hflip",
	"flip-v": "vflip",
}

// BuildArgs returns the ffmpeg arguments that read input and write output.
// Option values are already validated; only cross-field checks happen here.
func BuildArgs(p Params, opts options.Values, input, output string) ([]string, error) {
	args := []string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}

	switch p.Profile {
	case ProfileRemux:
		args = append(args, "-i", input, "-map", "0", "-c", "copy")

	case ProfileTranscode:
		args = append(args, "-i", input, "-c:v", p.VideoCodec, "-c:a", p.AudioCodec)
		args = append(args, scaleFilter(opts.String("resolution"))...)
		args = append(args, "-movflags", "+faststart")

	case ProfileGIF:
		start := opts.String("start")
		if start == "" {
			start = "00:00:00"
		}
		filter := fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", opts.Int("fps"), opts.Int("width"))
		args = append(args,
			"-ss", start,
			"-t", strconv.Itoa(opts.Int("duration")),
			"-i", input,
			"-vf", filter,
			"-loop", "0",
		)

	case ProfileTrim:
		start, end := opts.String("start"), opts.String("end")
		from, err := ParseTimestamp(start)
		if err != nil {
			return nil, converter.Unsupported("start: %v", err)
		}
		to, err := ParseTimestamp(end)
		if err != nil {
			return nil, converter.Unsupported("end: %v", err)
		}
		if to <= from {
			return nil, converter.Unsupported("end %s must be after start %s", end, start)
		}
		args = append(args, "-ss", start, "-to", end, "-i", input, "-map", "0", "-c", "copy")

	case ProfileCompress:
		args = append(args, "-i", input, "-c:v", p.VideoCodec)
		if rate, ok := videoBitrates[opts.String("bitrate")]; ok {
			args = append(args, "-b:v", rate)
		} else {
			args = append(args, "-crf", "28")
		}
		args = append(args, scaleFilter(opts.String("resolution"))...)
		args = append(args, "-c:a", p.AudioCodec, "-b:a", "128k", "-movflags", "+faststart")

	case ProfileRotate:
		filter, ok := rotations[opts.String("rotation")]
		if !ok {
			return nil, converter.Unsupported("unknown rotation %q", opts.String("rotation"))
		}
		args = append(args, "-i", input, "-vf", filter, "-c:a", "copy")

	case ProfileAudio:
		args = append(args, "-i", input, "-c:a", p.AudioCodec)
		if kbps := opts.Int("bitrate"); kbps > 0 && !strings.HasPrefix(p.AudioCodec, "pcm_") {
			args = append(args, "-b:a", strconv.Itoa(kbps)+"k")
		}

	default:
		return nil, converter.Unsupported("unknown ffmpeg profile %q", p.Profile)
	}

	if p.NoVideo {
		args = append(args, "-vn")
	}
	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}
	return append(args, output), nil
}

func scaleFilter(resolution string) []string {
	if resolution == "" || resolution == "original" {
		return nil
	}
	return []string{"-vf", "scale=-2:" + resolution}
}

// ParseTimestamp reads HH:MM:SS with optional milliseconds into seconds.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%q is not HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM:SS", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m > 59 {
		return 0, fmt.Errorf("%q is not HH:MM:SS", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec >= 60 {
		return 0, fmt.Errorf("%q is not HH:MM:SS", s)
	}
	return float64(h*3600+m*60) + sec, nil
}
