package usage

import (
	"bytes"
	"io"
	"testing"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

type nopCloserReader struct {
	*bytes.Reader
}

func (nopCloserReader) Close() error { return nil }

func newUpstream(s string) io.ReadCloser {
	return nopCloserReader{bytes.NewReader([]byte(s))}
}

func drain(t *testing.T, c *Collector) []byte {
	t.Helper()
	out, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return out
}

func TestCollector_PassesBytesThroughUnchanged(t *testing.T) {
	raw := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":3}}}\n\n"
	var got Report
	c := Wrap(newUpstream(raw), models.Anthropic, func(r Report) { got = r })

	out := drain(t, c)
	if string(out) != raw {
		t.Fatalf("tap must not alter bytes: got %q, want %q", out, raw)
	}
	_ = got
}

func TestCollector_Anthropic_FullLifecycle(t *testing.T) {
	raw := "" +
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":4}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	var reports []Report
	c := Wrap(newUpstream(raw), models.Anthropic, func(r Report) { reports = append(reports, r) })
	drain(t, c)

	if len(reports) != 1 {
		t.Fatalf("expected exactly one report, got %d: %+v", len(reports), reports)
	}
	if reports[0].InputTokens != 7 || reports[0].OutputTokens != 4 {
		t.Fatalf("unexpected report: %+v", reports[0])
	}
}

func TestCollector_OpenAI_UsageChunkBothCounts(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":9}}\n\n" +
		"data: [DONE]\n\n"

	var reports []Report
	c := Wrap(newUpstream(raw), models.OpenAI, func(r Report) { reports = append(reports, r) })
	drain(t, c)

	if len(reports) != 1 {
		t.Fatalf("expected exactly one report, got %d: %+v", len(reports), reports)
	}
	if reports[0].InputTokens != 2 || reports[0].OutputTokens != 9 {
		t.Fatalf("unexpected report: %+v", reports[0])
	}
}

func TestCollector_OpenAI_ResponsesAPIShape(t *testing.T) {
	raw := "data: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":6}}}\n\n"

	var reports []Report
	c := Wrap(newUpstream(raw), models.OpenAI, func(r Report) { reports = append(reports, r) })
	drain(t, c)

	if len(reports) != 1 || reports[0].InputTokens != 5 || reports[0].OutputTokens != 6 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}

func TestCollector_NeverReportsWhenIncomplete(t *testing.T) {
	raw := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\n"

	reported := false
	c := Wrap(newUpstream(raw), models.Anthropic, func(r Report) { reported = true })
	drain(t, c)

	if reported {
		t.Fatal("expected no report when token counts are incomplete")
	}
}

func TestCollector_ReportsAtMostOnce(t *testing.T) {
	raw := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":1}}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":1}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	var reports []Report
	c := Wrap(newUpstream(raw), models.Anthropic, func(r Report) { reports = append(reports, r) })
	drain(t, c)

	if len(reports) != 1 {
		t.Fatalf("expected exactly one report even with repeated message_delta events, got %d", len(reports))
	}
}

func TestCollector_CloseTriggersFinalReportOnce(t *testing.T) {
	raw := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":1}}}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":2}}\n\n"

	var reports []Report
	c := Wrap(newUpstream(raw), models.Anthropic, func(r Report) { reports = append(reports, r) })

	buf := make([]byte, len(raw))
	_, _ = c.Read(buf)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if len(reports) != 1 {
		t.Fatalf("expected exactly one report from Close, got %d", len(reports))
	}
}
