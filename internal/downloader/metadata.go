package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	defaultTitle    = "TikTok Video"
	defaultUploader = "TikTok User"
)

// VideoRecord is the normalized metadata of a video. Every field has a
// default, so a record is always fully populated.
type VideoRecord struct {
	Title       string `json:"title"`
	Uploader    string `json:"uploader"`
	Duration    int    `json:"duration"`
	Thumbnail   string `json:"thumbnail"`
	Description string `json:"description"`
	ViewCount   int64  `json:"view_count"`
	LikeCount   int64  `json:"like_count"`
}

// NormalizeRecord maps a raw extractor record onto VideoRecord. Missing,
// null and wrongly typed fields fall back to their defaults; numbers are
// clamped to be non-negative.
func NormalizeRecord(raw map[string]any) VideoRecord {
	return VideoRecord{
		Title:       stringField(raw, "title", defaultTitle, true),
		Uploader:    stringField(raw, "uploader", defaultUploader, true),
		Duration:    int(countField(raw, "duration")),
		Thumbnail:   stringField(raw, "thumbnail", "", false),
		Description: stringField(raw, "description", "", false),
		ViewCount:   countField(raw, "view_count"),
		LikeCount:   countField(raw, "like_count"),
	}
}

func stringField(raw map[string]any, key, fallback string, requireText bool) string {
	value, ok := raw[key].(string)
	if !ok {
		return fallback
	}
	if requireText && strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func countField(raw map[string]any, key string) int64 {
	var f float64
	switch v := raw[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			f = float64(n)
			break
		}
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

// ExtractMetadata validates rawURL and runs the extraction catalog until a
// persona yields a non-empty record.
func (o *Orchestrator) ExtractMetadata(ctx context.Context, rawURL string) (VideoRecord, error) {
	url, err := ValidateURL(rawURL)
	if err != nil {
		return VideoRecord{}, err
	}

	ctx, cancel := o.chainContext(ctx)
	defer cancel()

	result, err := RunChain(ctx, o.logger, "extract", o.extraction.Personas(),
		func(ctx context.Context, _ int, persona Persona) (VideoRecord, error) {
			raw, err := o.remote.FetchMetadata(ctx, url, persona)
			if err != nil {
				return VideoRecord{}, err
			}
			if len(raw) == 0 {
				return VideoRecord{}, ErrEmptyResult
			}
			return NormalizeRecord(raw), nil
		})
	if err != nil {
		return VideoRecord{}, wrapCategory(CategoryExtraction, fmt.Errorf("%w: %w", ErrExtractionFailed, err))
	}
	return result.Value, nil
}
