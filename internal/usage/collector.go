// Package usage taps a successful upstream SSE stream — before any protocol
// translation — to extract token counts for billing telemetry, without
// altering or reordering a single byte of what the client ultimately sees.
package usage

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// maxBufferBytes bounds the internal accumulation buffer; a malformed
// upstream that never emits a blank-line event terminator must not grow
// this without bound.
const maxBufferBytes = 1 << 20

// Report is what Collector hands the caller once both token counts are
// known.
type Report struct {
	InputTokens  int
	OutputTokens int
}

// Collector wraps an upstream response body, passing every byte through
// unchanged while incrementally parsing SSE events out of its own copy to
// recover usage. ReportFunc fires at most once: at an Anthropic
// message_stop, at the OpenAI event that carries both counts, or on stream
// end (read error or Close) if both counts are known by then.
type Collector struct {
	upstream io.ReadCloser
	upstreamProtocol models.Protocol

	ReportFunc func(Report)

	mu           sync.Mutex
	buf          []byte
	inputTokens  *int
	outputTokens *int
	reported     bool
}

// Wrap constructs a Collector around an upstream stream. upstreamProtocol
// is the protocol the bytes are still shaped as — native, pre-translation.
func Wrap(upstream io.ReadCloser, upstreamProtocol models.Protocol, reportFunc func(Report)) *Collector {
	return &Collector{upstream: upstream, upstreamProtocol: upstreamProtocol, ReportFunc: reportFunc}
}

// Read implements io.Reader. Bytes are returned to the caller exactly as
// read from upstream. Parsing runs on a copy of each chunk before Read
// returns and never alters the returned bytes.
func (c *Collector) Read(p []byte) (int, error) {
	n, err := c.upstream.Read(p)
	if n > 0 {
		c.observe(p[:n])
	}
	if err != nil {
		c.finalReport()
	}
	return n, err
}

// Close releases the upstream stream and performs the final report if one
// hasn't fired yet — the path taken when the inbound client disconnects
// mid-stream.
func (c *Collector) Close() error {
	c.finalReport()
	return c.upstream.Close()
}

func (c *Collector) observe(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf = append(c.buf, chunk...)
	if len(c.buf) > maxBufferBytes {
		c.buf = c.buf[:0]
		return
	}

	for {
		idx := indexDoubleNewline(c.buf)
		if idx == -1 {
			break
		}
		raw := c.buf[:idx]
		c.buf = c.buf[idx+2:]
		c.handleEvent(parseEventFields(raw))
	}
}

func indexDoubleNewline(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\n' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

type eventFields struct {
	event string
	data  string
}

func parseEventFields(raw []byte) eventFields {
	var ev eventFields
	var dataLines []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.event = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	ev.data = strings.Join(dataLines, "\n")
	return ev
}

// handleEvent must be called with c.mu held.
func (c *Collector) handleEvent(ev eventFields) {
	if ev.data == "" || ev.data == "[DONE]" {
		return
	}

	if c.upstreamProtocol.IsAnthropic() {
		c.handleAnthropicEvent(ev)
	} else {
		c.handleOpenAIEvent(ev)
	}
}

func (c *Collector) handleAnthropicEvent(ev eventFields) {
	var payload struct {
		Type    string `json:"type"`
		Message *struct {
			Usage struct {
				InputTokens int `json:"input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		Usage *struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
		return
	}

	eventType := ev.event
	if eventType == "" {
		eventType = payload.Type
	}

	switch eventType {
	case "message_start":
		if payload.Message != nil {
			tokens := payload.Message.Usage.InputTokens
			c.inputTokens = &tokens
		}
	case "message_delta":
		if payload.Usage != nil {
			tokens := payload.Usage.OutputTokens
			c.outputTokens = &tokens
		}
	case "message_stop":
		c.reportLocked()
	}
}

func (c *Collector) handleOpenAIEvent(ev eventFields) {
	var payload struct {
		Type     string `json:"type"`
		Response *struct {
			Usage struct {
				InputTokens      int `json:"input_tokens"`
				OutputTokens     int `json:"output_tokens"`
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		} `json:"response"`
		Usage *struct {
			InputTokens      int `json:"input_tokens"`
			OutputTokens     int `json:"output_tokens"`
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
		return
	}

	if (payload.Type == "response.completed" || payload.Type == "response.done") && payload.Response != nil {
		in := firstNonZero(payload.Response.Usage.InputTokens, payload.Response.Usage.PromptTokens)
		out := firstNonZero(payload.Response.Usage.OutputTokens, payload.Response.Usage.CompletionTokens)
		c.inputTokens = &in
		c.outputTokens = &out
		c.reportLocked()
		return
	}

	if payload.Usage != nil {
		in := firstNonZero(payload.Usage.InputTokens, payload.Usage.PromptTokens)
		out := firstNonZero(payload.Usage.OutputTokens, payload.Usage.CompletionTokens)
		c.inputTokens = &in
		c.outputTokens = &out
		c.reportLocked()
	}
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// reportLocked must be called with c.mu held.
func (c *Collector) reportLocked() {
	if c.reported || c.inputTokens == nil || c.outputTokens == nil {
		return
	}
	c.reported = true
	if c.ReportFunc != nil {
		c.ReportFunc(Report{InputTokens: *c.inputTokens, OutputTokens: *c.outputTokens})
	}
}

func (c *Collector) finalReport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportLocked()
}
