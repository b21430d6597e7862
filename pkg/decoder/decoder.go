package decoder

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// DecodeStrict reads exactly one JSON document into a T. Fields T does not have are an
// error, so a misspelled key is reported instead of silently dropped.
func DecodeStrict[T any](r io.Reader) (T, error) {
	var out T

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, errors.New("empty request body")
		}
		return out, errors.Wrap(err, "invalid request body")
	}

	if dec.More() {
		return out, errors.New("invalid request body: trailing data")
	}

	return out, nil
}

func DecodeMapStrict[T any](m map[string]any) (T, error) {
	var out T

	b, err := json.Marshal(m)
	if err != nil {
		return out, errors.Wrap(err, "failed to marshal map")
	}

	return DecodeStrict[T](bytes.NewReader(b))
}
