package signaling

import (
	"encoding/json"
	"fmt"
	"strings"
)

// frame is a single STOMP-style pub/sub message: a command, newline-separated
// headers, a blank line, and a NUL-terminated body.
type frame struct {
	Command string
	Headers map[string]string
	Body    string
}

// buildFrame renders a frame to its wire form: "COMMAND\nk:v\n...\n\nbody\x00".
func buildFrame(command string, headers map[string]string, body string) string {
	var b strings.Builder
	b.WriteString(command)
	b.WriteByte('\n')
	for k, v := range headers {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(body)
	b.WriteByte(0)
	return b.String()
}

// parseFrame parses a single raw frame string into its command, headers, and
// body. The trailing NUL, if present, is stripped.
func parseFrame(raw string) (frame, error) {
	raw = strings.TrimSuffix(raw, "\x00")

	headerEnd := strings.Index(raw, "\n\n")
	if headerEnd == -1 {
		return frame{}, fmt.Errorf("malformed frame: no header/body separator")
	}

	headerBlock := raw[:headerEnd]
	body := raw[headerEnd+2:]

	lines := strings.Split(headerBlock, "\n")
	if len(lines) == 0 {
		return frame{}, fmt.Errorf("malformed frame: empty header block")
	}

	f := frame{
		Command: lines[0],
		Headers: make(map[string]string, len(lines)-1),
		Body:    body,
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}
		f.Headers[line[:idx]] = line[idx+1:]
	}

	return f, nil
}

// wrapOutbound renders the SockJS outbound envelope for a single frame:
// a JSON array containing the raw frame string.
func wrapOutbound(raw string) (string, error) {
	encoded, err := json.Marshal([]string{raw})
	if err != nil {
		return "", fmt.Errorf("encode outbound envelope: %w", err)
	}
	return string(encoded), nil
}

// unwrapInbound parses the SockJS inbound envelope `a[<json array of raw
// frame strings>]` into the individual raw frame strings it carries.
func unwrapInbound(msg string) ([]string, error) {
	if !strings.HasPrefix(msg, "a") {
		return nil, fmt.Errorf("not an array message: %q", firstRunes(msg, 16))
	}
	var frames []string
	if err := json.Unmarshal([]byte(msg[1:]), &frames); err != nil {
		return nil, fmt.Errorf("decode inbound envelope: %w", err)
	}
	return frames, nil
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
