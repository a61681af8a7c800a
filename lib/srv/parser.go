package srv

import (
	log "github.com/sirupsen/logrus"
)

// parserMode is the escape-sequence state of the command parser.
type parserMode int

const (
	modeNormal parserMode = iota
	// modeEscape is entered on a bare ESC byte.
	modeEscape
	// modeCSI is entered on ESC-[ and accepts digits and semicolons
	// until a letter terminates the sequence.
	modeCSI
	// modeSS3 is entered on ESC-O, the application cursor key prefix.
	modeSS3
)

// commandParser reconstructs logical command lines from the attacker's
// raw keystroke stream, fragment by fragment. It keeps a character
// buffer with a cursor and a FIFO of completed commands.
//
// The parser is deterministic and intentionally lossy: sequences it does
// not recognize are discarded with a diagnostic rather than blocking the
// stream. Not safe for concurrent use; each channel pump owns one.
type commandParser struct {
	buffer []rune
	cursor int

	mode parserMode
	// sequence accumulates the body of a CSI sequence for diagnostics.
	sequence []rune

	commands []string

	log *log.Entry
}

func newCommandParser(logger *log.Entry) *commandParser {
	return &commandParser{log: logger}
}

const (
	charCR  = '\r'
	charDEL = '\x7f'
	charESC = '\x1b'
)

// Write feeds one decoded fragment of attacker input to the parser.
func (p *commandParser) Write(fragment string) {
	for _, char := range fragment {
		switch p.mode {
		case modeEscape:
			p.handleEscape(char)
		case modeCSI:
			p.handleCSI(char)
		case modeSS3:
			p.handleSS3(char)
		default:
			p.handleNormal(char)
		}
	}
}

// Commands drains the FIFO of completed command lines.
func (p *commandParser) Commands() []string {
	out := p.commands
	p.commands = nil
	return out
}

func (p *commandParser) handleNormal(char rune) {
	switch {
	case char == charESC:
		p.mode = modeEscape
	case char == charCR:
		// Everything typed before CR is one command. CR on an empty
		// buffer is a bare prompt hit, nothing to record.
		if len(p.buffer) > 0 {
			p.commands = append(p.commands, string(p.buffer))
			p.reset()
		}
	case char == charDEL:
		if len(p.buffer) > 0 {
			p.buffer = p.buffer[:len(p.buffer)-1]
			if p.cursor > len(p.buffer) {
				p.cursor = len(p.buffer)
			}
		}
	default:
		p.insert(char)
	}
}

func (p *commandParser) handleEscape(char rune) {
	switch char {
	case '[':
		p.mode = modeCSI
		p.sequence = nil
	case 'O':
		p.mode = modeSS3
	default:
		p.discard(char)
	}
}

func (p *commandParser) handleCSI(char rune) {
	switch {
	case char >= '0' && char <= '9' || char == ';':
		p.sequence = append(p.sequence, char)
	case isLetter(char):
		p.finishCSI(char)
	default:
		p.discard(char)
	}
}

// finishCSI applies the recognized cursor operation. History recall is
// not reconstructed: up and down clear the buffer, same as the terminal
// would replace the line.
func (p *commandParser) finishCSI(op rune) {
	p.mode = modeNormal
	switch op {
	case 'D': // cursor left
		if p.cursor > 0 {
			p.cursor--
		}
	case 'C': // cursor right
		if p.cursor < len(p.buffer) {
			p.cursor++
		}
	case 'A', 'B': // history up/down
		p.reset()
	default:
		p.log.Debugf("Unsupported escape sequence from attacker: ESC[%s%c", string(p.sequence), op)
	}
	p.sequence = nil
}

func (p *commandParser) handleSS3(char rune) {
	p.mode = modeNormal
	switch char {
	case 'A', 'B', 'C', 'D':
		// Application cursor keys, treated like history recall.
		p.reset()
	default:
		p.log.Debugf("Unsupported escape sequence from attacker: ESC O %c", char)
	}
}

// discard drops a malformed escape sequence, offending character
// included, and returns to normal mode.
func (p *commandParser) discard(char rune) {
	p.log.Debugf("Malformed escape sequence from attacker: %q", string(p.sequence)+string(char))
	p.sequence = nil
	p.mode = modeNormal
}

func (p *commandParser) insert(char rune) {
	if p.cursor == len(p.buffer) {
		p.buffer = append(p.buffer, char)
	} else {
		p.buffer = append(p.buffer[:p.cursor], append([]rune{char}, p.buffer[p.cursor:]...)...)
	}
	p.cursor++
}

func (p *commandParser) reset() {
	p.buffer = nil
	p.cursor = 0
}

func isLetter(char rune) bool {
	return char >= 'a' && char <= 'z' || char >= 'A' && char <= 'Z'
}
