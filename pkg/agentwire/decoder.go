package agentwire

import (
	"bytes"
	"encoding/json"
)

// LineDecoder splits an arbitrary chunk stream into complete lines and
// parses each one as a protocol record. Partial trailing lines are
// carried over to the next chunk, so record boundaries are preserved no
// matter how the OS chops up the pipe reads.
type LineDecoder struct {
	carry []byte
}

// NewLineDecoder returns a decoder with an empty carry-over buffer.
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

// Decode appends chunk to the carry-over buffer and returns one record
// per complete line. Empty lines are skipped. Lines that are not valid
// protocol JSON come back as TypeRaw records with the original text
// preserved in Raw.
func (d *LineDecoder) Decode(chunk []byte) []*Record {
	d.carry = append(d.carry, chunk...)

	var records []*Record
	for {
		idx := bytes.IndexByte(d.carry, '\n')
		if idx < 0 {
			break
		}
		line := d.carry[:idx]
		d.carry = d.carry[idx+1:]
		if rec := ParseRecord(line); rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

// Flush parses whatever is left in the carry-over buffer as a final
// record. Call it once after the stream ends; the agent does not always
// terminate its last line with a newline. Returns nil if the buffer is
// empty or whitespace.
func (d *LineDecoder) Flush() *Record {
	line := d.carry
	d.carry = nil
	return ParseRecord(line)
}

// ParseRecord parses a single line as a protocol record. It never fails:
// lines that are not valid JSON, or JSON without a known type, come back
// as a TypeRaw record carrying the trimmed original text. Blank lines
// yield nil.
func ParseRecord(line []byte) *Record {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil || rec.Type == "" {
		return &Record{Type: TypeRaw, Raw: string(line)}
	}
	rec.Raw = string(line)
	return &rec
}
