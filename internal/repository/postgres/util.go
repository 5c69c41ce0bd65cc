package postgres

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = notification.ErrNotFound

// wrapErr maps driver errors onto the domain taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return notification.NewStorageError(op, err)
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalJSON keeps numbers as json.Number so provider ids survive the round trip.
func unmarshalJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
