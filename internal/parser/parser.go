// Package parser implements the Response Parser (spec §4.B): it consumes the
// same token stream emitted by the LLM Client in two concurrent modes —
// native JSON tool-calls and inline XML tool tags — and yields events as
// soon as each is recognized, not at end of stream, so the dispatcher can
// begin execution concurrently with ongoing generation.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/registry"
)

// EventKind identifies the kind of event the parser yields.
type EventKind string

const (
	EventText     EventKind = "text"
	EventToolCall EventKind = "tool_call"
)

// Event is one unit of parsed output.
type Event struct {
	Kind EventKind
	Text string
	Call model.ToolCall
	// CoercionError is set when a JSON tool call's arguments failed to decode,
	// or an XML tool call is missing a required parameter. The ToolCall is
	// still emitted (per spec §4.B) so the dispatcher can surface a
	// synthesized failure ToolResult without invoking the handler.
	CoercionError error
}

// ErrNestedTag is returned by FeedText when the assistant text contains a tag
// nested inside an identical tag (spec §9 Open Question, resolved: nesting
// is not supported and is rejected rather than misparsed).
type ErrNestedTag struct {
	Tag string
}

func (e *ErrNestedTag) Error() string {
	return fmt.Sprintf("nested <%s> tag is not supported", e.Tag)
}

// Options configures which calling conventions are active for a parse.
type Options struct {
	JSONEnabled   bool
	XMLEnabled    bool
	MaxXMLCalls   int // 0 = unlimited
}

// Parser is a stateful, incremental scanner: callers feed it text chunks
// (EventText passthrough) and native tool-call deltas (from llm.Delta) and
// it yields Events as soon as each is recognized.
type Parser struct {
	opts     Options
	registry *registry.Registry

	// XML scanning state: textBuf accumulates assistant text not yet scanned
	// for a complete tag; emittedText tracks how much of textBuf has already
	// been surfaced as EventText so re-scanning doesn't duplicate output.
	textBuf     bytes.Buffer
	emittedText int
	xmlOrdinal  int
	xmlCalls    int

	// JSON scanning state: one accumulator per native tool-call index.
	jsonAccum map[int]*jsonCallAccum
	jsonOrder []int
}

type jsonCallAccum struct {
	id   string
	name string
	args bytes.Buffer
	done bool
	flushed bool
}

// New returns a Parser bound to reg for tag/name lookups.
func New(reg *registry.Registry, opts Options) *Parser {
	return &Parser{
		opts:      opts,
		registry:  reg,
		jsonAccum: map[int]*jsonCallAccum{},
	}
}

// FeedText appends an assistant text delta and returns any Events now
// recognizable. Plain text is only surfaced once the scanner is sure it is
// not part of an XML tool tag: a trailing "<" that could be the start of a
// registered tag is held back until more data disambiguates it, so the
// streaming rule (emit a ToolCall as soon as its closing token is observed,
// spec §4.B) never duplicates tag text into an assistant_chunk.
func (p *Parser) FeedText(chunk string) ([]Event, error) {
	if !p.opts.XMLEnabled {
		var events []Event
		if chunk != "" {
			events = append(events, Event{Kind: EventText, Text: chunk})
		}
		return events, nil
	}
	if chunk != "" {
		p.textBuf.WriteString(chunk)
	}
	return p.scanXML()
}

// scanXML looks for complete <tag>...</tag> occurrences of any registered
// tag in textBuf, emitting a ToolCall event for each as soon as its closing
// tag is seen, and an EventText for any plain text that precedes them or
// that cannot possibly be the start of a registered tag.
func (p *Parser) scanXML() ([]Event, error) {
	var events []Event

	for {
		buf := p.textBuf.Bytes()
		if p.opts.MaxXMLCalls > 0 && p.xmlCalls >= p.opts.MaxXMLCalls {
			if len(buf) > 0 {
				events = append(events, p.truncationDiagnostic())
				p.textBuf.Reset()
			}
			break
		}

		openIdx, tag, ambiguous := findNextRegisteredOpenTag(buf, p.registry)
		if openIdx < 0 {
			// No candidate tag start at all: everything is plain text.
			if len(buf) > 0 {
				events = append(events, Event{Kind: EventText, Text: string(buf)})
				p.textBuf.Reset()
			}
			break
		}
		if openIdx > 0 {
			events = append(events, Event{Kind: EventText, Text: string(buf[:openIdx])})
		}
		if ambiguous {
			// A tag candidate starts here but we can't yet tell if it's a full
			// match (more bytes may still be streaming in); hold everything
			// from openIdx onward and wait for the next chunk.
			p.textBuf.Reset()
			p.textBuf.Write(buf[openIdx:])
			break
		}

		openEnd := bytes.IndexByte(buf[openIdx:], '>')
		if openEnd < 0 {
			p.textBuf.Reset()
			p.textBuf.Write(buf[openIdx:])
			break // tag not fully streamed in yet
		}
		openEnd += openIdx

		closeTag := []byte("</" + tag + ">")
		// Detect a nested identical tag between open and close: reject rather
		// than misparse (spec §9).
		searchFrom := openEnd + 1
		nextOpen := bytes.Index(buf[searchFrom:], []byte("<"+tag))
		closeIdx := bytes.Index(buf[searchFrom:], closeTag)
		if closeIdx < 0 {
			p.textBuf.Reset()
			p.textBuf.Write(buf[openIdx:])
			break // closing tag not fully streamed in yet
		}
		if nextOpen >= 0 && nextOpen < closeIdx {
			return events, &ErrNestedTag{Tag: tag}
		}
		closeIdx += searchFrom

		attrsSeg := buf[openIdx+1+len(tag) : openEnd]
		innerSeg := buf[openEnd+1 : closeIdx]

		call, coerceErr := p.buildXMLCall(tag, string(attrsSeg), string(innerSeg))
		events = append(events, Event{Kind: EventToolCall, Call: call, CoercionError: coerceErr})
		p.xmlCalls++

		// Consume everything up to and including the closing tag; keep the
		// rest for further scanning in the next loop iteration.
		rest := append([]byte(nil), buf[closeIdx+len(closeTag):]...)
		p.textBuf.Reset()
		p.textBuf.Write(rest)
	}
	return events, nil
}

// findNextRegisteredOpenTag scans buf for the first "<name" sequence whose
// name matches a registered XML tag. If the name run reaches the end of buf
// without a terminating byte (so more streamed text could still extend or
// invalidate it), ambiguous is true and callers must wait for more data
// before deciding.
func findNextRegisteredOpenTag(buf []byte, reg *registry.Registry) (idx int, tag string, ambiguous bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '<' {
			continue
		}
		j := i + 1
		start := j
		for j < len(buf) && isNameByte(buf[j]) {
			j++
		}
		if j == start {
			continue // "<" not followed by a name byte: not a tag candidate
		}
		if j == len(buf) {
			// Name run hit end of buffer; it might still grow.
			return i, "", true
		}
		name := string(buf[start:j])
		if _, ok := reg.LookupByTag(name); ok {
			return i, name, false
		}
		// Not a registered tag: this "<" is plain text, keep scanning past it.
		i = j - 1
	}
	return -1, "", false
}

func isNameByte(b byte) bool {
	return b == '-' || b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// truncationDiagnostic builds the ToolCall+CoercionError event surfaced once
// MaxXMLCalls is reached (spec §4.C: "truncate remainder with a diagnostic
// ToolResult"). Its CoercionError routes it through the same
// synthesized-failure path as a malformed tag, so no handler ever runs and
// the discarded text never reaches the assistant message.
func (p *Parser) truncationDiagnostic() Event {
	p.xmlOrdinal++
	return Event{
		Kind: EventToolCall,
		Call: model.ToolCall{
			CallID:    fmt.Sprintf("xml-truncated-%d", p.xmlOrdinal),
			ToolName:  "xml_tool_call_limit_exceeded",
			Arguments: json.RawMessage("{}"),
			Origin:    model.OriginXML,
		},
		CoercionError: fmt.Errorf("max_xml_tool_calls (%d) exceeded: remaining response text discarded", p.opts.MaxXMLCalls),
	}
}

func (p *Parser) buildXMLCall(tag, attrsSeg, innerSeg string) (model.ToolCall, error) {
	p.xmlOrdinal++
	callID := fmt.Sprintf("xml-%s-%d", tag, p.xmlOrdinal)

	spec, _ := p.registry.LookupByTag(tag)
	attrs := parseAttrs(attrsSeg)

	args := map[string]any{}
	var missing []string
	for _, m := range spec.XMLMappings {
		raw, present := extractNode(m, attrs, innerSeg)
		if !present {
			if m.Required {
				missing = append(missing, m.Param)
			}
			continue
		}
		val, err := coerce(m.Value, raw)
		if err != nil {
			missing = append(missing, m.Param)
			continue
		}
		args[m.Param] = val
	}

	argsJSON, _ := json.Marshal(args)
	call := model.ToolCall{CallID: callID, ToolName: spec.Name, Arguments: argsJSON, Origin: model.OriginXML}
	if len(missing) > 0 {
		return call, fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return call, nil
}

func extractNode(m registry.XMLMapping, attrs map[string]string, inner string) (string, bool) {
	switch m.Node {
	case registry.NodeAttribute:
		v, ok := attrs[m.Param]
		return v, ok
	case registry.NodeContent:
		trimmed := strings.TrimSpace(inner)
		return trimmed, trimmed != ""
	case registry.NodeText:
		trimmed := strings.TrimSpace(inner)
		return trimmed, trimmed != ""
	case registry.NodeElement:
		child := strings.TrimPrefix(m.Path, "./")
		open := "<" + child
		start := strings.Index(inner, open)
		if start < 0 {
			return "", false
		}
		tagEnd := strings.IndexByte(inner[start:], '>')
		if tagEnd < 0 {
			return "", false
		}
		tagEnd += start
		close := "</" + child + ">"
		end := strings.Index(inner[tagEnd:], close)
		if end < 0 {
			return "", false
		}
		end += tagEnd
		return strings.TrimSpace(inner[tagEnd+1 : end]), true
	default:
		return "", false
	}
}

func parseAttrs(seg string) map[string]string {
	out := map[string]string{}
	seg = strings.TrimSpace(seg)
	for len(seg) > 0 {
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			break
		}
		name := strings.TrimSpace(seg[:eq])
		rest := strings.TrimLeft(seg[eq+1:], " ")
		if len(rest) == 0 || (rest[0] != '"' && rest[0] != '\'') {
			break
		}
		quote := rest[0]
		end := strings.IndexByte(rest[1:], quote)
		if end < 0 {
			break
		}
		end += 1
		out[name] = rest[1:end]
		seg = strings.TrimSpace(rest[end+1:])
	}
	return out
}

func coerce(vt registry.ValueType, raw string) (any, error) {
	switch vt {
	case registry.ValueInt:
		return strconv.Atoi(raw)
	case registry.ValueFloat:
		return strconv.ParseFloat(raw, 64)
	case registry.ValueBoolean:
		return strconv.ParseBool(raw)
	case registry.ValueJSON:
		var v any
		err := json.Unmarshal([]byte(raw), &v)
		return v, err
	default:
		return raw, nil
	}
}

// FeedToolCall accumulates one native tool-call delta. When the delta marks
// the call Done, the parser flushes it as an EventToolCall with its
// arguments decoded strictly as JSON; a decode error yields the ToolCall
// with a CoercionError rather than dropping it (spec §4.B).
func (p *Parser) FeedToolCall(idx int, id, name, argsFrag string, done bool) []Event {
	if !p.opts.JSONEnabled {
		return nil
	}
	acc, ok := p.jsonAccum[idx]
	if !ok {
		acc = &jsonCallAccum{}
		p.jsonAccum[idx] = acc
		p.jsonOrder = append(p.jsonOrder, idx)
	}
	if id != "" {
		acc.id = id
	}
	if name != "" {
		acc.name = name
	}
	acc.args.WriteString(argsFrag)
	if done {
		acc.done = true
	}
	if !acc.done || acc.flushed {
		return nil
	}
	acc.flushed = true

	callID := acc.id
	if callID == "" {
		callID = fmt.Sprintf("json-%d", idx)
	}
	var coerceErr error
	raw := acc.args.Bytes()
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		coerceErr = fmt.Errorf("invalid tool call arguments JSON: %w", err)
	}
	call := model.ToolCall{CallID: callID, ToolName: acc.name, Arguments: json.RawMessage(raw), Origin: model.OriginJSON}
	return []Event{{Kind: EventToolCall, Call: call, CoercionError: coerceErr}}
}

// Flush returns any buffered XML scan text that will never resolve
// into a tag (end of stream reached with an unmatched '<'); callers should
// surface this as plain text rather than silently dropping it.
func (p *Parser) Flush() string {
	rest := p.textBuf.String()
	p.textBuf.Reset()
	return rest
}
