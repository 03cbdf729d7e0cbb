package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot buckets durable backends store one row each for.
var Buckets = []string{"studies", "phases", "groups", "actions", "biosamples", "results"}

// EncodeBuckets marshals each bucket of the snapshot to JSON.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case "studies":
			data, err = json.Marshal(s.Studies)
		case "phases":
			data, err = json.Marshal(s.Phases)
		case "groups":
			data, err = json.Marshal(s.Groups)
		case "actions":
			data, err = json.Marshal(s.Actions)
		case "biosamples":
			data, err = json.Marshal(s.Biosamples)
		case "results":
			data, err = json.Marshal(s.Results)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals one bucket payload into the snapshot. Unknown
// buckets are ignored so older tables keep loading.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "studies":
		target = &s.Studies
	case "phases":
		target = &s.Phases
	case "groups":
		target = &s.Groups
	case "actions":
		target = &s.Actions
	case "biosamples":
		target = &s.Biosamples
	case "results":
		target = &s.Results
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
