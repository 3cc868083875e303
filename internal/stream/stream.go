// Package stream reconstructs assistant text from a streamed chat response:
// newline-delimited `data: <json>` frames terminated by `data: [DONE]`,
// arriving split at arbitrary byte boundaries.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

type frame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder is fed raw bytes as they arrive and emits the content deltas it
// can decode. A line whose JSON fails to parse is treated as not yet
// complete and pushed back onto the buffer for retry once more bytes
// arrive, which tolerates a frame being split across network chunks.
type Decoder struct {
	buf  []byte
	done bool
}

// Feed appends p to the buffer and returns the content deltas decoded from
// every complete frame now available.
func (d *Decoder) Feed(p []byte) []string {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var out []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return out
		}
		line := strings.TrimSuffix(string(d.buf[:i]), "\r")
		d.buf = d.buf[i+1:]

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "[DONE]" {
			d.done = true
			return out
		}

		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			d.buf = append([]byte(line+"\n"), d.buf...)
			return out
		}
		if len(f.Choices) > 0 && f.Choices[0].Delta.Content != "" {
			out = append(out, f.Choices[0].Delta.Content)
		}
	}
}

// Done reports whether the terminal [DONE] marker has been seen.
func (d *Decoder) Done() bool { return d.done }

// Flush drains whatever remains in the buffer after the stream has ended,
// this time skipping lines that still fail to decode.
func (d *Decoder) Flush() []string {
	var out []string
	for _, raw := range strings.Split(string(d.buf), "\n") {
		line := strings.TrimSuffix(raw, "\r")
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[len("data: "):])
		if data == "[DONE]" {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			continue
		}
		if len(f.Choices) > 0 && f.Choices[0].Delta.Content != "" {
			out = append(out, f.Choices[0].Delta.Content)
		}
	}
	d.buf = nil
	return out
}

// Collect reads r to completion and returns the reconstructed assistant
// text. The result is identical however the underlying reads are chunked.
func Collect(r io.Reader) (string, error) {
	var sb strings.Builder
	var d Decoder
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, delta := range d.Feed(buf[:n]) {
				sb.WriteString(delta)
			}
		}
		if d.Done() {
			return sb.String(), nil
		}
		if err == io.EOF {
			for _, delta := range d.Flush() {
				sb.WriteString(delta)
			}
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}
