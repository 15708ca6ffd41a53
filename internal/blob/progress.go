package blob

import (
	"io"
	"sync"
)

// Progress reports how much of an upload has been transferred.
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64
}

// Fraction returns the transferred share in [0, 1].
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 1
	}
	f := float64(p.BytesTransferred) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	return f
}

// Percent returns the transferred share rounded to a whole percentage.
func (p Progress) Percent() int {
	return int(p.Fraction()*100 + 0.5)
}

// ProgressReader wraps a reader and reports cumulative bytes read.
// Reported values never decrease. It is safe for the callback to be
// invoked from the goroutine that drives the read.
type ProgressReader struct {
	r     io.Reader
	total int64
	fn    func(Progress)

	mu   sync.Mutex
	read int64
}

// NewProgressReader returns a reader that calls fn after each read.
// A nil fn disables reporting.
func NewProgressReader(r io.Reader, total int64, fn func(Progress)) *ProgressReader {
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		if p.total > 0 && p.read > p.total {
			p.read = p.total
		}
		current := Progress{BytesTransferred: p.read, TotalBytes: p.total}
		p.mu.Unlock()
		if p.fn != nil {
			p.fn(current)
		}
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (p *ProgressReader) BytesRead() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read
}
