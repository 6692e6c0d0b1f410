package patcher

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/NebulousLabs/errors"
)

// forwardSeekStream is a forward-read view of one byte range of a source
// patch, plus the resource offset just past the last byte currently
// readable from it. Reading never needs to
// seek backward; a caller that wants to skip bytes just reads and discards
// them, exactly as the HTTP Install Task does while fast-forwarding past a
// range it no longer needs.
type forwardSeekStream struct {
	r     io.Reader
	start int64
	end   int64 // exclusive
}

func (s *forwardSeekStream) Read(p []byte) (int, error) { return s.r.Read(p) }

// availableToOffset is the exclusive upper bound of source-patch bytes
// currently readable from this part.
func (s *forwardSeekStream) availableToOffset() int64 { return s.end }

// multipartRangeReader wraps the body of a 206 Partial Content response to
// a multi-range GET and hands out its ranges one at a time. A response with
// a single range is surfaced as exactly one part; mr is nil in that case.
type multipartRangeReader struct {
	body   io.ReadCloser
	mr     *multipart.Reader
	single *forwardSeekStream
	done   bool
}

// newMultipartRangeReader builds a multipartRangeReader from resp, which
// must be a 206 response to a Range request. The caller retains
// responsibility for eventually calling Close.
func newMultipartRangeReader(resp *http.Response) (*multipartRangeReader, error) {
	ct := resp.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(ct)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		boundary, ok := params["boundary"]
		if !ok {
			return nil, errors.Extend(ErrUnexpectedEndOfStream, errors.New("multipart response missing boundary"))
		}
		return &multipartRangeReader{
			body: resp.Body,
			mr:   multipart.NewReader(resp.Body, boundary),
		}, nil
	}

	start, end, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return nil, err
	}
	return &multipartRangeReader{
		body:   resp.Body,
		single: &forwardSeekStream{r: resp.Body, start: start, end: end},
	}, nil
}

// nextPart returns the next range in the response, or nil when exhausted.
// cancellation is checked once before doing any blocking work.
func (m *multipartRangeReader) nextPart(cancellation <-chan struct{}) (*forwardSeekStream, error) {
	select {
	case <-cancellation:
		return nil, ErrCancelled
	default:
	}

	if m.done {
		return nil, nil
	}

	if m.mr == nil {
		if m.single == nil {
			m.done = true
			return nil, nil
		}
		s := m.single
		m.single = nil
		m.done = true
		return s, nil
	}

	p, err := m.mr.NextPart()
	if err == io.EOF {
		m.done = true
		return nil, nil
	}
	if err != nil {
		return nil, errors.Extend(ErrTransientIO, err)
	}
	start, end, err := parseContentRange(p.Header.Get("Content-Range"))
	if err != nil {
		return nil, err
	}
	return &forwardSeekStream{r: p, start: start, end: end}, nil
}

// Close releases the underlying HTTP response body.
func (m *multipartRangeReader) Close() error {
	return m.body.Close()
}

// parseContentRange parses a "bytes start-end/total" or "bytes
// start-end/*" header value into a half-open [start, end) range.
func parseContentRange(h string) (start, end int64, err error) {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "bytes ")
	slash := strings.IndexByte(h, '/')
	if slash < 0 {
		return 0, 0, errors.Extend(ErrUnexpectedEndOfStream, errors.New("missing Content-Range header on range part"))
	}
	span := h[:slash]
	dash := strings.IndexByte(span, '-')
	if dash < 0 {
		return 0, 0, errors.Extend(ErrUnexpectedEndOfStream, errors.New("malformed Content-Range span"))
	}
	startI, err := strconv.ParseInt(span[:dash], 10, 64)
	if err != nil {
		return 0, 0, errors.Extend(ErrUnexpectedEndOfStream, err)
	}
	endI, err := strconv.ParseInt(span[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, errors.Extend(ErrUnexpectedEndOfStream, err)
	}
	return startI, endI + 1, nil
}
