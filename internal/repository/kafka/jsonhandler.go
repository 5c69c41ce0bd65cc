package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// JSONHandler decodes each message value into a fresh M before calling handle.
// Untyped numbers are kept as json.Number.
func JSONHandler[M any](handle func(ctx context.Context, key []byte, msg *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		msg := new(M)
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		if err := dec.Decode(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return handle(ctx, key, msg)
	}
}
