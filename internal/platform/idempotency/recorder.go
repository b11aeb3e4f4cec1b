package idempotency

import (
	"bytes"
	"net/http"
	"slices"
)

// bufferedResponse holds the handler's response until the record is saved, so a client never
// sees a response the store failed to keep.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) Status() int { return cmpStatus(b.status) }

// Response snapshots what the handler produced.
func (b *bufferedResponse) Response() Response {
	resp := Response{Status: b.Status(), Headers: b.header.Clone()}
	if b.body.Len() > 0 {
		resp.Body = slices.Clone(b.body.Bytes())
	}
	return resp
}

// copyTo copies the buffered response to w.
func (b *bufferedResponse) copyTo(w http.ResponseWriter) error {
	dst := w.Header()
	clear(dst)
	for name, values := range b.header {
		dst[name] = slices.Clone(values)
	}
	w.WriteHeader(b.Status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
