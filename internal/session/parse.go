package session

import (
	"regexp"
	"strings"
	"time"

	"github.com/benW3ART/vibes-sub001/internal/protocol"
	"github.com/benW3ART/vibes-sub001/internal/streamjson"
)

var (
	readingPattern   = regexp.MustCompile(`(?i)(?:Reading|read)\s+(.+)`)
	writingPattern   = regexp.MustCompile(`(?i)(?:Writing|wrote)\s+(?:to\s+)?(.+)`)
	executingPattern = regexp.MustCompile(`(?i)(?:Executing|Running)\s+(.+)`)
	taskPattern      = regexp.MustCompile(`(?i)task\s+(\S+)`)
	agentPattern     = regexp.MustCompile(`(?i)genius-(\w+)`)
)

// ParseLine turns one line of agent stdout into events. Stream-json
// lines may carry several content blocks; plain text lines yield one
// event classified by keyword.
func ParseLine(line string, now time.Time) []protocol.ClaudeEvent {
	if msg, ok := streamjson.Decode([]byte(line)); ok {
		return parseMessage(msg, line, now)
	}
	return []protocol.ClaudeEvent{parseText(line, now)}
}

// parseText classifies a plain text line. Checks run in a fixed order;
// the first match wins.
func parseText(line string, now time.Time) protocol.ClaudeEvent {
	event := protocol.ClaudeEvent{Raw: line, Timestamp: now}

	switch {
	case strings.Contains(line, "Thinking...") || strings.Contains(line, "..."):
		event.Type = protocol.EventThinking
		event.Content = line

	case strings.Contains(line, "Reading") || strings.Contains(line, "read"):
		event.Type = protocol.EventReading
		event.File = submatch(readingPattern, line)
		event.Content = line

	case strings.Contains(line, "Writing") || strings.Contains(line, "wrote"):
		event.Type = protocol.EventWriting
		event.File = submatch(writingPattern, line)
		event.Content = line

	case strings.Contains(line, "Executing") || strings.Contains(line, "Running"):
		event.Type = protocol.EventExecuting
		event.Command = submatch(executingPattern, line)
		event.Content = line

	case strings.Contains(line, "✓") || strings.Contains(line, "Success") || strings.Contains(line, "Done"):
		event.Type = protocol.EventSuccess
		event.Message = line

	case strings.Contains(line, "✗") || strings.Contains(line, "Error") || strings.Contains(line, "Failed"):
		event.Type = protocol.EventError
		event.Message = line

	case strings.Contains(line, "Starting task"):
		event.Type = protocol.EventTaskStart
		event.TaskID = submatch(taskPattern, line)
		event.Content = line

	case strings.Contains(line, "Completed task"):
		event.Type = protocol.EventTaskComplete
		event.TaskID = submatch(taskPattern, line)
		event.Content = line

	case strings.Contains(line, "genius-") || strings.Contains(line, "Agent:"):
		event.Type = protocol.EventAgentSwitch
		event.Agent = submatch(agentPattern, line)
		if event.Agent == "" {
			event.Agent = "unknown"
		}
		event.Content = line

	default:
		event.Type = protocol.EventOutput
		event.Content = line
	}
	return event
}

func submatch(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseMessage(msg streamjson.Message, raw string, now time.Time) []protocol.ClaudeEvent {
	base := protocol.ClaudeEvent{Raw: raw, Timestamp: now}

	switch msg.Type {
	case streamjson.TypeAssistant:
		if msg.Message == nil {
			break
		}
		var events []protocol.ClaudeEvent
		for _, block := range msg.Message.Content {
			if event, ok := blockEvent(block, base); ok {
				events = append(events, event)
			}
		}
		if len(events) > 0 {
			return events
		}

	case streamjson.TypeResult:
		event := base
		event.Message = msg.Result
		event.Type = protocol.EventSuccess
		if msg.IsError {
			event.Type = protocol.EventError
		}
		return []protocol.ClaudeEvent{event}

	case streamjson.TypeSystem:
		if msg.Subtype == "init" && msg.Model != "" {
			event := base
			event.Type = protocol.EventAgentSwitch
			event.Agent = msg.Model
			event.Content = raw
			return []protocol.ClaudeEvent{event}
		}
	}

	event := base
	event.Type = protocol.EventOutput
	event.Content = raw
	return []protocol.ClaudeEvent{event}
}

func blockEvent(block streamjson.Block, base protocol.ClaudeEvent) (protocol.ClaudeEvent, bool) {
	event := base
	switch block.Type {
	case streamjson.BlockText:
		if block.Text == "" {
			return event, false
		}
		event.Type = protocol.EventOutput
		event.Content = block.Text

	case streamjson.BlockThinking:
		event.Type = protocol.EventThinking
		event.Content = block.Thinking

	case streamjson.BlockToolUse:
		in := block.Tool()
		file := in.FilePath
		if file == "" {
			file = in.Path
		}
		switch block.Name {
		case "Read", "Glob", "Grep", "LS":
			event.Type = protocol.EventReading
			event.File = file
			event.Content = block.Name
		case "Write", "Edit", "MultiEdit", "NotebookEdit":
			event.Type = protocol.EventWriting
			event.File = file
			event.Content = block.Name
		case "Task":
			event.Type = protocol.EventTaskStart
			event.TaskID = block.ID
			event.Content = in.Description
		case "Bash":
			event.Type = protocol.EventExecuting
			event.Command = in.Command
		default:
			event.Type = protocol.EventExecuting
			event.Command = block.Name
		}

	default:
		return event, false
	}
	return event, true
}
