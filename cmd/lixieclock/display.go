package main

import (
	"fmt"
	"io"
	"time"
)

const NUM_LIXIES = 6

//FormatDigits splits time to HHMMSS digits, leftmost first
func FormatDigits(t time.Time) [NUM_LIXIES]uint8 {
	h, m, s := t.Clock()
	return [NUM_LIXIES]uint8{
		uint8(h / 10), uint8(h % 10),
		uint8(m / 10), uint8(m % 10),
		uint8(s / 10), uint8(s % 10),
	}
}

//Display stands for lixie digit chain. Prints digits to writer
type Display struct {
	Out  io.Writer
	last string
}

//Show writes only when content changes
func (p *Display) Show(digits [NUM_LIXIES]uint8) error {
	s := fmt.Sprintf("%d%d:%d%d:%d%d", digits[0], digits[1], digits[2], digits[3], digits[4], digits[5])
	return p.write(s)
}

//Blank is shown until there is first sync
func (p *Display) Blank() error {
	return p.write("--:--:--")
}

func (p *Display) write(s string) error {
	if s == p.last {
		return nil
	}
	p.last = s
	_, err := fmt.Fprintf(p.Out, "\r%s", s)
	return err
}
