package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type of an event stream.
const ContentType = "application/x-ndjson"

// Encoder writes events as newline-delimited JSON, flushing after each line
// so a client sees it immediately.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
	enc     *json.Encoder
}

// NewEncoder wraps w. If w is an http.Flusher every line is flushed.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	e.flusher, _ = w.(http.Flusher)
	e.enc = json.NewEncoder(&e.buf)
	e.enc.SetEscapeHTML(false)
	return e
}

// Encode writes ev as one complete line.
func (e *Encoder) Encode(ev Event) error {
	e.buf.Reset()
	// json.Encoder terminates each value with '\n'.
	if err := e.enc.Encode(ev); err != nil {
		return err
	}
	if _, err := e.w.Write(e.buf.Bytes()); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Drain encodes events until the channel is closed, ctx ends, or a write
// fails. It returns the number of lines written.
func (e *Encoder) Drain(ctx context.Context, events <-chan Event) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return n, nil
			}
			if err := e.Encode(ev); err != nil {
				return n, err
			}
			n++
		}
	}
}
