package stream

import (
	"io"
)

// TeeBody is a response body whose reads are mirrored into a pipe that feeds
// a ReaderSource. If the mirror side goes away (its stream is closed), reads
// continue for the caller and mirroring stops.
type TeeBody struct {
	body     io.ReadCloser
	pw       *io.PipeWriter
	detached bool
}

// Tee splits body into:
//   - the returned TeeBody, which the caller reads as usual
//   - a Source that yields the same bytes as fragments, ending with io.EOF
//     once the caller reaches the end of the body or closes it
//
// The Source must be consumed concurrently with the TeeBody.
func Tee(body io.ReadCloser, size int) (*TeeBody, *ReaderSource) {
	pr, pw := io.Pipe()
	return &TeeBody{body: body, pw: pw}, NewReaderSource(pr, size)
}

func (t *TeeBody) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && !t.detached {
		if _, werr := t.pw.Write(p[:n]); werr != nil {
			t.detached = true
		}
	}
	if err != nil {
		t.pw.CloseWithError(err)
	}
	return n, err
}

func (t *TeeBody) Close() error {
	t.pw.Close()
	return t.body.Close()
}
