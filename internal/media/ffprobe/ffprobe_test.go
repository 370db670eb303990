package ffprobe

import (
	"errors"
	"testing"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "avg_frame_rate": "30000/1001", "r_frame_rate": "30/1", "nb_frames": "",
     "side_data_list": [{"rotation": -90}]},
    {"index": 1, "codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "10.010000", "size": "2048", "format_name": "mov,mp4"}
}`

func TestParseAndHelpers(t *testing.T) {
	result, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 1 {
		t.Fatalf("unexpected stream counts %d/%d", result.VideoStreamCount(), result.AudioStreamCount())
	}
	if result.DurationSeconds() != 10.01 {
		t.Fatalf("unexpected duration %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 2048 {
		t.Fatalf("unexpected size %d", result.SizeBytes())
	}
	w, h := result.Dimensions()
	if w != 1080 || h != 1920 {
		t.Fatalf("expected rotated dimensions 1080x1920, got %dx%d", w, h)
	}
	rate := result.FrameRate()
	if rate < 29.96 || rate > 29.98 {
		t.Fatalf("unexpected frame rate %v", rate)
	}
	if n := result.FrameCount(); n != 300 {
		t.Fatalf("expected estimated 300 frames, got %d", n)
	}
	if err := result.ValidatePlayable(); err != nil {
		t.Fatalf("ValidatePlayable: %v", err)
	}
	if len(result.RawJSON()) == 0 {
		t.Fatal("expected raw payload to be retained")
	}
}

func TestValidatePlayableRejects(t *testing.T) {
	cases := []struct {
		name   string
		result Result
	}{
		{"no duration", Result{Streams: []Stream{{CodecType: "video"}}}},
		{"no streams", Result{Format: Format{Duration: "3.0"}}},
		{"bad duration", Result{Format: Format{Duration: "nope"}, Streams: []Stream{{CodecType: "audio"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.result.ValidatePlayable(); !errors.Is(err, ErrUnplayable) {
				t.Fatalf("expected ErrUnplayable, got %v", err)
			}
		})
	}
}

func TestAudioOnlyIsPlayable(t *testing.T) {
	result := Result{Format: Format{Duration: "4"}, Streams: []Stream{{CodecType: "audio"}}}
	if err := result.ValidatePlayable(); err != nil {
		t.Fatalf("expected audio-only to be playable, got %v", err)
	}
	if w, h := result.Dimensions(); w != 0 || h != 0 {
		t.Fatalf("expected no dimensions, got %dx%d", w, h)
	}
}
