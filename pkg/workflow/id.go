package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/wire"
)

const idPrefix = "workflow"

// ErrNegativeSeq rejects IDs that String could not render in parseable form.
var ErrNegativeSeq = errors.New("workflow: negative id sequence")

// ID identifies a workflow: the identifier of the driver instance that
// registered it plus a per-driver sequence number.
type ID struct {
	Tracker string
	Seq     int32
}

// String renders the ID as workflow_<tracker>_<seq>, with seq zero-padded
// to four digits.
func (id ID) String() string {
	return fmt.Sprintf("%s_%s_%04d", idPrefix, id.Tracker, id.Seq)
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id.Tracker == "" && id.Seq == 0
}

// ParseID parses the form produced by String. The tracker part may itself
// contain underscores; the sequence is the last segment.
func ParseID(s string) (ID, error) {
	rest, ok := strings.CutPrefix(s, idPrefix+"_")
	if !ok {
		return ID{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow id %q", s)
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return ID{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow id %q", s)
	}
	seq, err := strconv.ParseInt(rest[i+1:], 10, 32)
	if err != nil || seq < 0 {
		return ID{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow id %q", s).WithCause(err)
	}
	return ID{Tracker: rest[:i], Seq: int32(seq)}, nil
}

// Encode writes the sequence as a 4-byte integer followed by the tracker
// string.
func (id ID) Encode(w *wire.Writer) {
	if id.Seq < 0 {
		w.Fail(ErrNegativeSeq)
		return
	}
	w.WriteInt32(id.Seq)
	w.WriteString(id.Tracker)
}

// DecodeID reads an ID written by Encode. Errors are left on r.
func DecodeID(r *wire.Reader) ID {
	seq := r.ReadInt32()
	if r.Err() == nil && seq < 0 {
		r.Fail(ErrNegativeSeq)
		return ID{}
	}
	tracker := r.ReadString()
	return ID{Tracker: tracker, Seq: seq}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
