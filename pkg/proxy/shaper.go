package proxy

import (
	"strings"
	"time"
)

const (
	// Interarrival gap between content chunks that implies the agent
	// silently started a new turn.
	turnGap = 3 * time.Second

	// Thinking text is coalesced to roughly this many characters per
	// emitted event.
	thinkingFlushLen = 80

	filteredMessage = "该内容暂时无法处理，已自动清理相关对话记录，请换个话题继续。"

	// A short inbound conversation that yields nothing usually means the
	// sandbox was not warm yet; longer ones were content-filtered.
	filteredMessageThreshold = 4
)

var toolStatus = map[string]string{
	"image":      "正在分析图片...",
	"web_search": "正在搜索网页...",
	"read":       "正在读取文件...",
	"write":      "正在写入文件...",
	"edit":       "正在编辑文件...",
	"exec":       "正在执行命令...",
	"process":    "正在处理任务...",
	"cron":       "正在设置定时任务...",
	"memory":     "正在检索记忆...",
	"web_fetch":  "正在读取网页...",
}

// shaper converts raw chat-completion chunks into the typed delta stream.
//
// The upstream does not mark agent-turn boundaries cleanly, so two
// signals are combined: finish_reason markers (tool_calls discards the
// reasoning buffer, stop emits it) and a 3 second interarrival gap on the
// monotonic clock, which catches agents that restart generation after a
// tool call without emitting either marker. All content is forwarded
// immediately as thinking; only the final turn's buffer becomes content.
type shaper struct {
	emit Emitter
	now  func() time.Time

	buf       strings.Builder // current turn content
	pending   strings.Builder // coalesced thinking not yet flushed
	turnCount int
	chunks    int

	lastContent time.Time
	haveContent bool
	seenTools   map[string]bool
	emitErr     error
}

func newShaper(emit Emitter, now func() time.Time) *shaper {
	if now == nil {
		now = time.Now
	}
	return &shaper{
		emit:      emit,
		now:       now,
		turnCount: 1,
		seenTools: make(map[string]bool),
	}
}

// onChunk consumes one upstream chunk.
func (s *shaper) onChunk(chunk *upstreamChunk) {
	if len(chunk.Choices) == 0 {
		return
	}
	// Any parsed chunk counts: a stream of pure tool activity is not empty
	// even when no content text ever arrives.
	s.chunks++
	choice := chunk.Choices[0]

	for _, tc := range choice.Delta.ToolCalls {
		name := tc.Function.Name
		if name == "" || s.seenTools[name] {
			continue
		}
		s.seenTools[name] = true
		s.flushThinking()
		status, ok := toolStatus[name]
		if !ok {
			status = "正在执行 " + name + "..."
		}
		s.emitDelta(Delta{Type: DeltaThinking, Text: status + "\n"})
	}

	if text := choice.Delta.Content; text != "" {
		ts := s.now()
		if s.haveContent && ts.Sub(s.lastContent) > turnGap {
			// Implicit turn boundary: the buffered text was reasoning
			// for a tool call, not the final answer.
			s.buf.Reset()
			s.flushThinking()
			s.emitDelta(Delta{Type: DeltaThinking, Text: "\n\n"})
			s.turnCount++
		}
		s.lastContent = ts
		s.haveContent = true

		s.buf.WriteString(text)
		s.pending.WriteString(text)
		if s.pending.Len() >= thinkingFlushLen {
			s.flushThinking()
		}
	}

	if choice.FinishReason != nil {
		switch *choice.FinishReason {
		case "tool_calls":
			s.flushThinking()
			s.buf.Reset()
			s.turnCount++
		case "stop":
			s.flushThinking()
			s.emitContent()
		}
	}
}

// finalize runs at the upstream [DONE] sentinel. messageCount is the size
// of the inbound conversation, used to pick the empty-stream fallback.
func (s *shaper) finalize(messageCount int) {
	s.flushThinking()
	if s.chunks == 0 {
		if messageCount > filteredMessageThreshold {
			s.emitDelta(Delta{Type: DeltaContent, Text: filteredMessage, Filtered: true})
		} else {
			s.emitDelta(Delta{Type: DeltaContent, Text: friendlyMessages[errUnknown]})
		}
		return
	}
	s.emitContent()
}

func (s *shaper) emitContent() {
	if s.buf.Len() == 0 {
		return
	}
	s.emitDelta(Delta{Type: DeltaContent, Text: s.buf.String()})
	s.buf.Reset()
}

func (s *shaper) flushThinking() {
	if s.pending.Len() == 0 {
		return
	}
	s.emitDelta(Delta{Type: DeltaThinking, Text: s.pending.String()})
	s.pending.Reset()
}

func (s *shaper) emitDelta(d Delta) {
	if s.emitErr != nil {
		return
	}
	s.emitErr = s.emit.Delta(d)
}
