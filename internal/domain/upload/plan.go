package upload

// Mode selects how a file reaches object storage.
type Mode string

const (
	// ModeSimple uploads the whole file with a single presigned PUT.
	ModeSimple Mode = "simple"
	// ModeMultipart splits the file into fixed-size parts uploaded separately.
	ModeMultipart Mode = "multipart"
)

// Part is one contiguous byte range of the source file. Offsets follow Go
// slice conventions: Start is inclusive, End is exclusive. Number is the
// 1-indexed position and doubles as the storage part number.
type Part struct {
	Number   int
	Start    int64
	End      int64
	ETag     string
	Uploaded bool
}

// Size returns the number of bytes in the part.
func (p Part) Size() int64 {
	return p.End - p.Start
}

// Plan is the deterministic transfer layout for one file. The same inputs
// always yield the same plan, so an interrupted session can replan after a
// restart and skip the parts already confirmed by storage.
type Plan struct {
	Mode      Mode
	TotalSize int64
	ChunkSize int64
	Parts     []Part
}

// UploadedBytes sums the sizes of parts already confirmed by storage.
func (p *Plan) UploadedBytes() int64 {
	var n int64
	for _, part := range p.Parts {
		if part.Uploaded {
			n += part.Size()
		}
	}
	return n
}

// Remaining returns the parts still to transfer, in ascending order.
func (p *Plan) Remaining() []Part {
	var parts []Part
	for _, part := range p.Parts {
		if !part.Uploaded {
			parts = append(parts, part)
		}
	}
	return parts
}

// Complete checks if every part has been confirmed.
func (p *Plan) Complete() bool {
	for _, part := range p.Parts {
		if !part.Uploaded {
			return false
		}
	}
	return true
}

// MarkUploaded records the integrity token for a finished part. A part is
// never marked uploaded without one: the token is required at finalize.
func (p *Plan) MarkUploaded(number int, etag string) error {
	if number < 1 || number > len(p.Parts) {
		return NewValidation("unknown part number %d", number)
	}
	if etag == "" {
		return NewError(CodeMissingIntegrityToken, "storage response did not include an integrity token", SeverityFatal).
			WithDetail("part_number", number)
	}
	p.Parts[number-1].ETag = etag
	p.Parts[number-1].Uploaded = true
	return nil
}

// Planner derives transfer plans from the configured chunk geometry.
type Planner struct {
	ChunkSize   int64
	MinPartSize int64
	MaxParts    int
}

// NewPlanner creates a planner with the given chunk geometry.
func NewPlanner(chunkSize, minPartSize int64, maxParts int) *Planner {
	return &Planner{
		ChunkSize:   chunkSize,
		MinPartSize: minPartSize,
		MaxParts:    maxParts,
	}
}

// Plan splits totalSize bytes into 1-indexed contiguous parts. Files at or
// below the chunk size produce a single-part simple plan. A chunkSize of
// zero falls back to the configured default.
//
// Part i covers [(i-1)*chunkSize, min(i*chunkSize, totalSize)), so every
// part except the last is exactly chunkSize bytes and the ranges cover the
// file with no gaps or overlaps.
func (pl *Planner) Plan(totalSize, chunkSize int64) (*Plan, error) {
	if totalSize <= 0 {
		return nil, NewValidation("file size must be positive, got %d", totalSize)
	}
	if chunkSize <= 0 {
		chunkSize = pl.ChunkSize
	}
	if chunkSize <= 0 {
		return nil, NewValidation("chunk size must be positive, got %d", chunkSize)
	}

	if totalSize <= chunkSize {
		return &Plan{
			Mode:      ModeSimple,
			TotalSize: totalSize,
			ChunkSize: chunkSize,
			Parts:     []Part{{Number: 1, Start: 0, End: totalSize}},
		}, nil
	}

	// Every non-final part is exactly chunkSize bytes, so a chunk size below
	// the storage minimum can never produce a valid multipart layout.
	if chunkSize < pl.MinPartSize {
		return nil, NewValidation("chunk size %d is below the minimum part size %d", chunkSize, pl.MinPartSize)
	}

	count := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		count++
	}
	if pl.MaxParts > 0 && count > int64(pl.MaxParts) {
		return nil, NewValidation("file requires %d parts, exceeding the limit of %d", count, pl.MaxParts)
	}

	parts := make([]Part, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		parts = append(parts, Part{Number: int(i) + 1, Start: start, End: end})
	}

	return &Plan{
		Mode:      ModeMultipart,
		TotalSize: totalSize,
		ChunkSize: chunkSize,
		Parts:     parts,
	}, nil
}
