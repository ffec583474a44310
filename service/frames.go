package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"legalchat-backend/runtime"
)

// DataStreamHeader marks a response as a data stream for the chat client
const DataStreamHeader = "x-vercel-ai-data-stream"

// Finish reasons of the terminal frame
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// ErrStreamFinished is returned for writes after the terminal frame
var ErrStreamFinished = errors.New("stream already finished")

// FinishFrame is the payload of the terminal e: frame
type FinishFrame struct {
	FinishReason string        `json:"finishReason"`
	Usage        runtime.Usage `json:"usage"`
	IsContinued  bool          `json:"isContinued"`
	Error        string        `json:"error,omitempty"`
}

// FrameWriter writes the line protocol: any number of 0: text frames followed
// by exactly one e: frame. It is not safe for concurrent use.
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
	final   *FinishFrame
}

// NewFrameWriter wraps w. Frames are flushed one by one when w is an http.Flusher.
func NewFrameWriter(w io.Writer) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// WriteText emits one text delta frame
func (fw *FrameWriter) WriteText(text string) error {
	if fw.final != nil {
		return ErrStreamFinished
	}
	payload, err := marshal(text)
	if err != nil {
		return err
	}
	return fw.line("0:", payload)
}

// Finish emits the successful terminal frame
func (fw *FrameWriter) Finish(usage runtime.Usage) error {
	return fw.terminal(FinishFrame{FinishReason: FinishStop, Usage: usage})
}

// Fail emits the error terminal frame
func (fw *FrameWriter) Fail(cause error, usage runtime.Usage) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return fw.terminal(FinishFrame{FinishReason: FinishError, Usage: usage, Error: msg})
}

// Done reports whether the terminal frame has been written
func (fw *FrameWriter) Done() bool {
	return fw.final != nil
}

// Result returns the terminal frame, or nil before it was written
func (fw *FrameWriter) Result() *FinishFrame {
	return fw.final
}

func (fw *FrameWriter) terminal(frame FinishFrame) error {
	if fw.final != nil {
		return ErrStreamFinished
	}
	fw.final = &frame
	payload, err := marshal(frame)
	if err != nil {
		return err
	}
	return fw.line("e:", payload)
}

func (fw *FrameWriter) line(prefix string, payload []byte) error {
	buf := make([]byte, 0, len(prefix)+len(payload)+1)
	buf = append(buf, prefix...)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	if _, err := fw.w.Write(buf); err != nil {
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
