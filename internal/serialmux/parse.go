package serialmux

import "strings"

// LineKind classifies a line printed by a beacon receiver.
type LineKind int

const (
	LineEmpty LineKind = iota
	// LinePacket carries one advertisement.
	LinePacket
	// LineStatus is receiver chatter: comments, command acknowledgements and
	// boot banners.
	LineStatus
)

// ClassifyLine inspects a receiver line. The classification is deliberately
// loose; anything that might be a packet is handed to the packet parser.
func ClassifyLine(line string) LineKind {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return LineEmpty
	case strings.HasPrefix(line, "#"),
		strings.HasPrefix(line, ">"),
		strings.EqualFold(line, "ok"),
		strings.HasPrefix(strings.ToUpper(line), "ERR"):
		return LineStatus
	case strings.HasPrefix(line, "{"), strings.Contains(line, ","):
		return LinePacket
	default:
		return LineStatus
	}
}
