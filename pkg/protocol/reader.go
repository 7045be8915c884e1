package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/formats"
)

const maxLine = 16 * 1024 * 1024

// Reader splits an input stream into batches. A batch ends at an empty line,
// an "end" line or EOF; blank lines before any content are skipped.
type Reader struct {
	sc   *bufio.Scanner
	base atlas.Options
	line int
}

// NewReader returns a reader whose batches start from base options.
func NewReader(r io.Reader, base atlas.Options) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{sc: sc, base: base}
}

// Next reads one batch. It returns io.EOF once the input holds no more content.
func (r *Reader) Next() (*Batch, error) {
	b := &Batch{ID: uuid.New(), Options: r.base}
	p := formats.NewOBJParser()
	started := false
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" {
			if !started {
				continue
			}
			break
		}
		started = true
		if text == EndDirective {
			break
		}
		if b.Err != nil {
			continue
		}
		if name, value, ok := optLine(text); ok {
			if err := b.Options.Set(name, value); err != nil {
				b.Err = fmt.Errorf("line %d: %w", r.line, err)
			}
			continue
		}
		p.Line(text)
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	if !started {
		return nil, io.EOF
	}
	if b.Err == nil {
		b.Decls = p.Finish().Decls()
	}
	return b, nil
}

// optLine splits "opt <name> [value]".
func optLine(text string) (name, value string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != OptDirective {
		return "", "", false
	}
	return fields[1], strings.Join(fields[2:], " "), true
}
