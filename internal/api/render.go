package api

import (
	"fmt"
	"strings"
)

// SRTFormatTimestamp renders seconds as "HH:MM:SS,mmm".
func SRTFormatTimestamp(ts float64) string {
	return formatTimestamp(ts, ',')
}

// VTTFormatTimestamp renders seconds as "HH:MM:SS.mmm".
func VTTFormatTimestamp(ts float64) string {
	return formatTimestamp(ts, '.')
}

func formatTimestamp(ts float64, sep byte) string {
	if ts < 0 {
		ts = 0
	}
	hours := int(ts) / 3600
	minutes := (int(ts) % 3600) / 60
	seconds := int(ts) % 60
	milliseconds := int(ts*1000) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, milliseconds)
}

// SegmentsToText joins segment texts into the plain-text response.
func SegmentsToText(segments []TranscriptionSegment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return strings.TrimSpace(b.String())
}

// SegmentToSRT renders one numbered SRT cue.
func SegmentToSRT(seg TranscriptionSegment, i int) string {
	return fmt.Sprintf("%d\n%s --> %s\n%s\n\n",
		i+1, SRTFormatTimestamp(seg.Start), SRTFormatTimestamp(seg.End), seg.Text)
}

// SegmentToVTT renders one WebVTT cue. The first cue carries the
// header and starts at zero so players begin rendering immediately.
func SegmentToVTT(seg TranscriptionSegment, i int) string {
	start := seg.Start
	if i == 0 {
		start = 0
	}
	cue := fmt.Sprintf("%s --> %s\n%s\n\n",
		VTTFormatTimestamp(start), VTTFormatTimestamp(seg.End), seg.Text)
	if i == 0 {
		return "WEBVTT\n\n" + cue
	}
	return cue
}

// SegmentsToSRT renders a full SRT document.
func SegmentsToSRT(segments []TranscriptionSegment) string {
	var b strings.Builder
	for i, seg := range segments {
		b.WriteString(SegmentToSRT(seg, i))
	}
	return b.String()
}

// SegmentsToVTT renders a full WebVTT document.
func SegmentsToVTT(segments []TranscriptionSegment) string {
	if len(segments) == 0 {
		return "WEBVTT\n\n"
	}
	var b strings.Builder
	for i, seg := range segments {
		b.WriteString(SegmentToVTT(seg, i))
	}
	return b.String()
}
