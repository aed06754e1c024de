package flights

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MalformedDataError reports a feed body that does not have the expected
// {"states": [...]} shape.
type MalformedDataError struct {
	Reason string
	Err    error
}

func (e *MalformedDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed states payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed states payload: %s", e.Reason)
}

func (e *MalformedDataError) Unwrap() error { return e.Err }

// IsMalformed reports whether err is, or wraps, a MalformedDataError.
func IsMalformed(err error) bool {
	var mde *MalformedDataError
	return errors.As(err, &mde)
}

// Normalize decodes a states response and returns the records that have a
// position inside at least one of boxes.
//
// A body with "states": null or an empty list is a valid empty result.
// A body that is not a JSON object or lacks the "states" key returns a
// *MalformedDataError. Rows that fail shape checks are dropped individually.
func Normalize(body []byte, boxes []BoundingBox) ([]Record, error) {
	records, _, err := normalize(body, boxes)
	return records, err
}

// normalize is Normalize that also reports how many rows were malformed.
func normalize(body []byte, boxes []BoundingBox) (records []Record, dropped int, err error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, 0, &MalformedDataError{Reason: "body is not a JSON object", Err: err}
	}

	rawStates, ok := envelope["states"]
	if !ok {
		return nil, 0, &MalformedDataError{Reason: `missing "states" field`}
	}
	if isNull(rawStates) {
		return []Record{}, 0, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(rawStates, &rows); err != nil {
		return nil, 0, &MalformedDataError{Reason: `"states" is not a list`, Err: err}
	}

	records = make([]Record, 0, len(rows))
	for _, raw := range rows {
		var row StateVector
		if err := json.Unmarshal(raw, &row); err != nil {
			dropped++
			continue
		}

		rec, ok, err := decodeState(row)
		if err != nil {
			dropped++
			continue
		}
		if !ok || !inAnyBox(boxes, rec.Latitude, rec.Longitude) {
			continue
		}
		records = append(records, rec)
	}

	return records, dropped, nil
}
