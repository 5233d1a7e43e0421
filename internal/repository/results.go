package repository

import (
	"encoding/json"
	"fmt"

	"github.com/biomarker-normalizer/pkg/biomarker"
)

// encodeResults serializes a result set for storage. The column type is
// plain JSON (not JSONB) so the biomarker order survives a round trip.
func encodeResults(rs *biomarker.ResultSet) ([]byte, error) {
	if rs == nil {
		return nil, nil
	}
	raw, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}
	return raw, nil
}

func decodeResults(raw []byte) (*biomarker.ResultSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	rs := biomarker.NewResultSet()
	if err := json.Unmarshal(raw, rs); err != nil {
		return nil, fmt.Errorf("decoding results: %w", err)
	}
	return rs, nil
}
