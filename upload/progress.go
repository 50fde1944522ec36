package upload

import (
	"io"
	"math"
)

// Percent returns round(transferred*100/total) clamped to [0, 100].
func Percent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(transferred) * 100 / float64(total)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProgressReader reports the bytes read from a seekable body.
// Transports may read a body more than once (request signing, retries), so only
// bytes beyond the furthest position read so far are reported.
type ProgressReader struct {
	body     io.ReadSeeker
	progress ProgressFunc
	pos      int64
	reported int64
}

// NewProgressReader ...
func NewProgressReader(body io.ReadSeeker, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{body: body, progress: progress}
}

// Read ...
func (r *ProgressReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.pos += int64(n)
	if r.pos > r.reported {
		delta := r.pos - r.reported
		r.reported = r.pos
		if r.progress != nil {
			r.progress(delta)
		}
	}
	return n, err
}

// Seek ...
func (r *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.body.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	r.pos = pos
	return pos, nil
}
