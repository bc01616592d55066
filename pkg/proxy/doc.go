/*
Package proxy forwards chat completion requests to per-user sandbox
gateways and reshapes the upstream SSE stream for mobile clients.

# Request Pipeline

	inbound request
	  │ materialize attachments into workspace/media/inbound
	  │ inject temporal context (system message + inline date note)
	  │ pin session (bearer token, session-key header, user field)
	  ▼
	POST http://127.0.0.1:<port>/v1/chat/completions
	  │ 2 attempts, ~3 s backoff
	  ▼
	shaper: raw chunks → thinking / content / file deltas
	  │ workspace diff after [DONE]
	  ▼
	client SSE stream, always terminated by data: [DONE]

Attachments arrive as base64 payloads inside structured message content.
The gateway is text-only, so each payload is written under the user's
workspace and replaced by a reference line the agent can read itself.

# Turn Shaping

Upstream streams interleave reasoning, tool calls, and the final answer
without clean boundaries. The shaper buffers content per agent turn,
forwarding every chunk immediately as a thinking delta, and emits the
buffer as a single content delta only when the turn completes (explicit
finish_reason or a 3 second interarrival gap). Reasoning turns ended by
tool_calls are discarded from the buffer; the client keeps only the
final answer as persistent output.

# Failure Policy

Transport errors never reach the client as HTTP failures. Exhausted
retries inject one content delta with a fixed friendly message followed
by the end-of-stream sentinel, so the response stays 200 and the client
renders the message inline. An empty upstream stream is disambiguated by
conversation length: long conversations were content-filtered, short
ones hit a cold sandbox.
*/
package proxy
