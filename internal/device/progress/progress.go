package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress through a
// callback as a completion fraction in [0, 1]. Reports are throttled to
// one per interval bytes, plus a final report at EOF.
type Reader struct {
	inner          io.Reader
	total          int64
	onProgress     func(fraction float64)
	totalRead      int64
	lastReport     int64
	reportInterval int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(fraction float64)) *Reader {
	return &Reader{
		inner:          r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.inner.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval {
			pr.report()
			pr.lastReport = 0
		}
	}

	if err == io.EOF {
		pr.report()
	}

	return n, err
}

func (pr *Reader) report() {
	if pr.onProgress == nil || pr.total <= 0 {
		return
	}

	fraction := float64(pr.totalRead) / float64(pr.total)
	if fraction > 1 {
		fraction = 1
	}

	pr.onProgress(fraction)
}
