package workflow

import (
	"bytes"
	"io"

	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/wire"
)

// The encoded form is, in order: the ID, the failure info string, the
// submission time as 8 bytes, then the prep, submitted, running and
// finished job sets, each a 4-byte count followed by that many strings.
// The run state is not encoded; decoding derives it from the rest.

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Status) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo encodes a snapshot of the tracker to w. The lock is held only for
// the copy, not while writing.
func (s *Status) WriteTo(w io.Writer) (int64, error) {
	return EncodeSnapshot(w, s.Snapshot())
}

// EncodeSnapshot writes sn in the status wire format.
func EncodeSnapshot(w io.Writer, sn Snapshot) (int64, error) {
	ww := wire.NewWriter(w)
	sn.ID.Encode(ww)
	ww.WriteString(sn.FailureInfo)
	ww.WriteInt64(sn.SubmissionTime)
	for _, stage := range schema.Stages {
		names := sn.Jobs(stage)
		ww.WriteInt32(int32(len(names)))
		for _, name := range names {
			ww.WriteString(name)
		}
	}
	if err := ww.Err(); err != nil {
		return ww.N(), schema.NewError(schema.ErrCodeExecution, "encode workflow status").WithCause(err)
	}
	return ww.N(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The whole input
// must be consumed. On error the receiver is left unchanged.
func (s *Status) UnmarshalBinary(data []byte) error {
	br := bytes.NewReader(data)
	d, err := decode(wire.NewReader(br))
	if err != nil {
		return err
	}
	if br.Len() > 0 {
		return schema.NewErrorf(schema.ErrCodeDecode,
			"decode workflow status: %d trailing bytes", br.Len())
	}
	s.apply(d)
	return nil
}

// ReadStatus decodes one tracker from r. It consumes exactly the encoded
// bytes, so trackers written back to back can be read in sequence.
func ReadStatus(r io.Reader, opts ...Option) (*Status, error) {
	d, err := decode(wire.NewReader(r))
	if err != nil {
		return nil, err
	}
	s := NewStatus(d.id, opts...)
	s.apply(d)
	return s, nil
}

type decoded struct {
	id             ID
	failureInfo    string
	submissionTime int64
	jobs           map[string]schema.Stage
}

func decode(r *wire.Reader) (*decoded, error) {
	d := &decoded{jobs: make(map[string]schema.Stage)}

	d.id = DecodeID(r)
	if err := r.Err(); err != nil {
		return nil, decodeErr("workflow id", err)
	}
	d.failureInfo = r.ReadString()
	if err := r.Err(); err != nil {
		return nil, decodeErr("failure info", err)
	}
	d.submissionTime = r.ReadInt64()
	if err := r.Err(); err != nil {
		return nil, decodeErr("submission time", err)
	}

	for _, stage := range schema.Stages {
		count := r.ReadInt32()
		if err := r.Err(); err != nil {
			return nil, decodeErr(string(stage)+" jobs", err)
		}
		if count < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeDecode,
				"decode workflow status: negative %s job count %d", stage, count).
				WithDetails(map[string]any{"stage": string(stage), "count": count})
		}
		for i := int32(0); i < count; i++ {
			name := r.ReadString()
			if err := r.Err(); err != nil {
				return nil, decodeErr(string(stage)+" jobs", err)
			}
			// A name listed in several sets ends in the furthest one.
			d.jobs[name] = stage
		}
	}
	return d, nil
}

func decodeErr(field string, err error) error {
	return schema.NewErrorf(schema.ErrCodeDecode, "decode workflow status: %s: %s", field, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"field": field})
}

func (s *Status) apply(d *decoded) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = d.id
	s.failureInfo = d.failureInfo
	s.submissionTime = d.submissionTime
	s.jobs = d.jobs
	s.state = deriveRunState(d)
}

// deriveRunState reconstructs the furthest state the decoded membership
// implies, by the same rules the live tracker advances with. Histories that
// only move jobs forward decode to the state they had live.
func deriveRunState(d *decoded) schema.RunState {
	counts := make(map[schema.Stage]int, len(schema.Stages))
	for _, st := range d.jobs {
		counts[st]++
	}
	outstanding := counts[schema.StagePrep] + counts[schema.StageSubmitted] + counts[schema.StageRunning]
	switch {
	case counts[schema.StageFinished] > 0 && outstanding == 0:
		return schema.RunStateSucceeded
	case counts[schema.StageRunning] > 0 || counts[schema.StageFinished] > 0:
		return schema.RunStateRunning
	case counts[schema.StageSubmitted] > 0 || d.submissionTime != NotSubmitted:
		return schema.RunStateSubmitted
	default:
		return schema.RunStatePrep
	}
}
