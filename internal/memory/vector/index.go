package vector

import (
	"encoding/json"
	"os"
	"time"
)

func marshalIndex(idx map[string]time.Time) ([]byte, error) {
	return json.Marshal(idx)
}

func readIndex(path string) (map[string]time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
