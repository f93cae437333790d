package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Control message tokens
const (
	TokenConnect    = "CONNECT"
	TokenDisconnect = "DISCONNECT"

	// Separator between the command token and the declared receive port
	PortSeparator = ":"

	// TimeLayout is the HH:MM:SS layout of the Time field (24-hour, zero-padded)
	TimeLayout = "15:04:05"
)

// Command identifies the kind of control message a client sent
type Command int

const (
	CommandUnknown Command = iota
	CommandConnect
	CommandDisconnect
)

func (c Command) String() string {
	switch c {
	case CommandConnect:
		return "CONNECT"
	case CommandDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlMessage is a decoded client → server datagram
type ControlMessage struct {
	Command Command
	Port    int  // declared receive port
	Default bool // true when Port was substituted with the default
}

// ParseControlMessage classifies a datagram as CONNECT, DISCONNECT or unknown.
// A missing or malformed port suffix yields defaultPort instead of an error.
func ParseControlMessage(data []byte, defaultPort int) ControlMessage {
	text := string(data)

	var cmd Command
	switch {
	case strings.HasPrefix(text, TokenConnect):
		cmd = CommandConnect
	case strings.HasPrefix(text, TokenDisconnect):
		cmd = CommandDisconnect
	default:
		return ControlMessage{Command: CommandUnknown}
	}

	port, ok := parsePort(text)
	if !ok {
		return ControlMessage{Command: cmd, Port: defaultPort, Default: true}
	}
	return ControlMessage{Command: cmd, Port: port}
}

// parsePort extracts the port from "<TOKEN>:<port>". Exactly one separator
// is accepted, surrounding whitespace is ignored.
func parsePort(text string) (int, bool) {
	parts := strings.Split(text, PortSeparator)
	if len(parts) != 2 {
		return 0, false
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}

// FormatConnect builds a CONNECT:<port> datagram
func FormatConnect(port int) []byte {
	return []byte(fmt.Sprintf("%s%s%d", TokenConnect, PortSeparator, port))
}

// FormatDisconnect builds a DISCONNECT:<port> datagram
func FormatDisconnect(port int) []byte {
	return []byte(fmt.Sprintf("%s%s%d", TokenDisconnect, PortSeparator, port))
}

// TimeMessage is the server → client broadcast payload
type TimeMessage struct {
	Time      string    `json:"Time"`
	Timestamp time.Time `json:"Timestamp"`
}

// NewTimeMessage builds the payload for t
func NewTimeMessage(t time.Time) TimeMessage {
	return TimeMessage{
		Time:      t.Format(TimeLayout),
		Timestamp: t,
	}
}

// Encode serializes the message to its JSON wire form
func (m TimeMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode time message: %w", err)
	}
	return data, nil
}

// DecodeTimeMessage parses a broadcast payload received by a client
func DecodeTimeMessage(data []byte) (TimeMessage, error) {
	var m TimeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return TimeMessage{}, fmt.Errorf("failed to decode time message: %w", err)
	}
	if m.Time == "" {
		return TimeMessage{}, fmt.Errorf("time message has empty Time field")
	}
	return m, nil
}
