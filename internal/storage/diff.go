package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Chunk is a single inserted or removed span.
type Chunk struct {
	Type    string `json:"type"` // "added" | "removed"
	Content string `json:"content"`
}

// Change compares one field of the two newest records for a url.
type Change struct {
	URL     string  `json:"url"`
	Field   string  `json:"field"`
	BaseID  int64   `json:"base_id,omitempty"`
	HeadID  int64   `json:"head_id"`
	Changed bool    `json:"changed"`
	Chunks  []Chunk `json:"chunks"`
}

// FieldChange diffs field between the latest record for url and the one
// before it. With a single record everything is reported as added.
func FieldChange(ctx context.Context, r Reader, moduleID, url, field string) (*Change, error) {
	recs, err := r.History(ctx, moduleID, url, 2)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoRecords, moduleID, url)
	}

	head := recs[0]
	change := &Change{URL: url, Field: field, HeadID: head.ID}
	var base string
	if len(recs) > 1 {
		change.BaseID = recs[1].ID
		base = fieldText(recs[1].Values[field])
	}
	change.Chunks = diffText(base, fieldText(head.Values[field]))
	change.Changed = len(change.Chunks) > 0
	return change, nil
}

func diffText(base, head string) []Chunk {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(base, head, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	chunks := make([]Chunk, 0)
	for _, d := range diffs {
		var chunkType string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			chunkType = "added"
		case diffmatchpatch.DiffDelete:
			chunkType = "removed"
		default:
			continue
		}
		if strings.TrimSpace(d.Text) != "" {
			chunks = append(chunks, Chunk{Type: chunkType, Content: d.Text})
		}
	}
	return chunks
}

func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
