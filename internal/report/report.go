// Package report turns coordinator results into a serializable form shared by
// the object store archive and the Kafka outcome topic.
package report

import (
	"encoding/json"
	"errors"
	"time"

	"batchtx/pkg/txcoord"
)

// Batch is the serialized form of txcoord.BatchReport.
type Batch struct {
	Index     int    `json:"index"`
	Size      int    `json:"size"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Failure is the serialized form of one failure.
type Failure struct {
	Batch int    `json:"batch"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Report describes one invocation.
type Report struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	Mode       string    `json:"mode"`
	Success    bool      `json:"success"`
	Items      int       `json:"items"`
	Started    time.Time `json:"started"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	Committed  int       `json:"committed"`
	RolledBack int       `json:"rolled_back"`
	Failures   []Failure `json:"failures,omitempty"`
	Batches    []Batch   `json:"batches"`
}

// FromResult builds a Report. source names where the items came from.
func FromResult(res *txcoord.Result, source string) Report {
	r := Report{
		ID:         res.ID,
		Source:     source,
		Mode:       res.Mode.String(),
		Success:    res.Success,
		Items:      res.Items(),
		Started:    res.Started.UTC(),
		ElapsedMS:  res.Elapsed.Milliseconds(),
		Committed:  res.Count(txcoord.StateCommitted),
		RolledBack: res.Count(txcoord.StateRolledBack),
		Batches:    make([]Batch, 0, len(res.Batches)),
	}
	for _, b := range res.Batches {
		sb := Batch{
			Index:     b.Index,
			Size:      b.Size,
			State:     b.State.String(),
			ElapsedMS: b.Elapsed.Milliseconds(),
		}
		if b.Err != nil {
			sb.Error = b.Err.Error()
		}
		r.Batches = append(r.Batches, sb)
	}
	for _, err := range res.Failures {
		f := Failure{Batch: -1, Error: err.Error()}
		var be *txcoord.BatchError
		if errors.As(err, &be) {
			f.Batch = be.Batch
			f.Kind = be.Kind.String()
			f.Error = be.Err.Error()
		}
		r.Failures = append(r.Failures, f)
	}
	return r
}

// Marshal encodes r as JSON.
func (r Report) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a JSON report.
func Unmarshal(data []byte) (Report, error) {
	var r Report
	err := json.Unmarshal(data, &r)
	return r, err
}
