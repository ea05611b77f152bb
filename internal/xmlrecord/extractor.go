package xmlrecord

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

// Record is one extracted record subtree.
type Record struct {
	Element *Element

	// Recovered marks a record whose body failed to parse but whose closing
	// tag was found. Its tree holds whatever was decoded before the damage.
	Recovered bool
}

// Extractor yields one Record per occurrence of a delimiting element.
type Extractor struct {
	tag     string
	recover bool
	logger  *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRecover makes the extractor split the input on tag boundaries and
// decode each record independently, so damage is contained to one record.
func WithRecover(enabled bool) Option {
	return func(e *Extractor) {
		e.recover = enabled
	}
}

// WithLogger sets the logger used for dropped records.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an extractor for records delimited by tag.
func New(tag string, opts ...Option) *Extractor {
	e := &Extractor{tag: tag, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Records lazily yields records read from r. Only one record subtree is held
// in memory at a time. In strict mode the first syntax error is yielded and
// iteration ends. Cancellation of ctx is yielded as its error.
func (e *Extractor) Records(ctx context.Context, r io.Reader) iter.Seq2[Record, error] {
	if e.recover {
		return e.recovering(ctx, r)
	}
	return e.strict(ctx, r)
}

func (e *Extractor) strict(ctx context.Context, r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		dec := xml.NewDecoder(r)
		for {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}

			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("read %s records: %w", e.tag, err))
				return
			}

			start, ok := tok.(xml.StartElement)
			if !ok || start.Name.Local != e.tag {
				continue
			}

			el, err := buildElement(dec, start)
			if err != nil {
				yield(Record{}, fmt.Errorf("read %s record: %w", e.tag, err))
				return
			}
			if !yield(Record{Element: el}, nil) {
				return
			}
		}
	}
}

func (e *Extractor) recovering(ctx context.Context, r io.Reader) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		c := newChunker(r, e.tag)
		for {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}

			chunk, err := c.next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("read %s records: %w", e.tag, err))
				return
			}
			if !chunk.complete {
				e.logger.Debug("Dropped record without closing tag", "tag", e.tag, "offset", chunk.offset)
				continue
			}

			rec, ok := e.decodeChunk(chunk)
			if !ok {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (e *Extractor) decodeChunk(chunk chunk) (Record, bool) {
	el, err := decodeElement(chunk.data, true)
	if err == nil {
		return Record{Element: el}, true
	}
	strictErr := err

	el, err = decodeElement(chunk.data, false)
	if el == nil {
		e.logger.Debug("Dropped unparseable record", "tag", e.tag, "offset", chunk.offset, "error", err)
		return Record{}, false
	}
	e.logger.Debug("Recovered damaged record", "tag", e.tag, "offset", chunk.offset, "error", strictErr)
	return Record{Element: el, Recovered: true}, true
}

// decodeElement decodes the first element in data. A partial tree may be
// returned alongside an error.
func decodeElement(data []byte, strict bool) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = strict

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return buildElement(dec, start)
		}
	}
}

// buildElement consumes tokens up to the end of start and returns its tree.
// On error the partially built tree is returned with the error.
func buildElement(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	root := newElement(start)
	stack := []*Element{root}
	var text []bytes.Buffer
	text = append(text, bytes.Buffer{})

	for len(stack) > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			for i, el := range stack {
				el.Text = text[i].String()
			}
			return root, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child := newElement(t)
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, child)
			stack = append(stack, child)
			text = append(text, bytes.Buffer{})
		case xml.EndElement:
			top := len(stack) - 1
			stack[top].Text = text[top].String()
			stack = stack[:top]
			text = text[:top]
		case xml.CharData:
			text[len(text)-1].Write(t)
		}
	}
	return root, nil
}

func newElement(start xml.StartElement) *Element {
	el := &Element{Name: start.Name.Local}
	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
	}
	return el
}

// chunk is the raw bytes of one record, from its start tag onwards.
type chunk struct {
	data     []byte
	offset   int64
	complete bool
}

// chunker splits a byte stream into record chunks on tag boundaries without
// parsing. A start tag seen while a record is still open ends that record as
// incomplete, since delimiting elements never nest.
type chunker struct {
	br      *bufio.Reader
	open    []byte
	close   []byte
	offset  int64
	pending []byte
	pendAt  int64
}

func newChunker(r io.Reader, tag string) *chunker {
	return &chunker{
		br:    bufio.NewReaderSize(r, 64*1024),
		open:  []byte("<" + tag),
		close: []byte("</" + tag + ">"),
	}
}

// next returns the next chunk, or io.EOF when the stream is exhausted.
func (c *chunker) next() (chunk, error) {
	var cur []byte
	var curAt int64
	inRecord := false

	if c.pending != nil {
		cur, curAt, inRecord = c.pending, c.pendAt, true
		c.pending = nil
		if isSelfClosing(cur) {
			return chunk{data: cur, offset: curAt, complete: true}, nil
		}
	}

	for {
		piece, err := c.br.ReadBytes('>')
		pieceAt := c.offset
		c.offset += int64(len(piece))

		if len(piece) > 0 {
			if i := c.findOpen(piece); i >= 0 {
				startTag := append([]byte(nil), piece[i:]...)
				if inRecord {
					c.pending, c.pendAt = startTag, pieceAt+int64(i)
					return chunk{data: cur, offset: curAt}, nil
				}
				cur, curAt, inRecord = startTag, pieceAt+int64(i), true
				if isSelfClosing(cur) {
					return chunk{data: cur, offset: curAt, complete: true}, nil
				}
			} else if inRecord {
				cur = append(cur, piece...)
				if bytes.HasSuffix(piece, c.close) {
					return chunk{data: cur, offset: curAt, complete: true}, nil
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				return chunk{}, err
			}
			if inRecord {
				return chunk{data: cur, offset: curAt}, nil
			}
			return chunk{}, io.EOF
		}
	}
}

// findOpen returns the index of a start tag for the record element in piece, or -1.
func (c *chunker) findOpen(piece []byte) int {
	from := 0
	for {
		i := bytes.Index(piece[from:], c.open)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(c.open)
		if end >= len(piece) {
			return -1
		}
		switch piece[end] {
		case '>', '/', ' ', '\t', '\n', '\r':
			return i
		}
		from = end
	}
}

func isSelfClosing(startTag []byte) bool {
	return bytes.HasSuffix(startTag, []byte("/>"))
}
