package session

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Session blobs are a JSON object of variable name -> raw JSON value,
// zstd-compressed before the cache write. Reused coders are safe for
// concurrent EncodeAll/DecodeAll use.
var (
	blobEncoder, _ = zstd.NewWriter(nil)
	blobDecoder, _ = zstd.NewReader(nil)
)

func encodeBlob(variables map[string]json.RawMessage) ([]byte, error) {
	raw, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session blob: %w", err)
	}
	return blobEncoder.EncodeAll(raw, nil), nil
}

func decodeBlob(blob []byte) (map[string]json.RawMessage, error) {
	raw, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress session blob: %w", err)
	}

	variables := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session blob: %w", err)
	}
	return variables, nil
}
