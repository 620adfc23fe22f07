package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// encodeJSONMap はmapをJSONBカラム用のバイト列に変換する。nilは空オブジェクトにする。
func encodeJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return b, nil
}

// decodeJSONMap はJSONBカラムの値をmapに変換する。
func decodeJSONMap(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}
	return m, nil
}

// isUniqueViolation はPostgreSQLの一意制約違反（23505）かを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
