package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"parking_barrier/internal/models"
)

// Wire layout of the occupancy subtree:
//
//	{"timestamp": 1700000000000,
//	 "estacionamientos": {"e1": {"name": "A", "occupied": false, "distance": 42.5}, ...}}
//
// estacionamientos may also be an array; null entries are skipped.
type wireSnapshot struct {
	Timestamp float64         `json:"timestamp"`
	Spots     json.RawMessage `json:"estacionamientos"`
}

type wireSpot struct {
	Name     string  `json:"name"`
	Occupied bool    `json:"occupied"`
	Distance float64 `json:"distance"`
}

// DecodeSnapshot converts a pushed subtree into a ParkingSnapshot.
// A null subtree decodes to an empty snapshot with timestamp 0.
func DecodeSnapshot(data json.RawMessage) (models.ParkingSnapshot, error) {
	var snap models.ParkingSnapshot
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return snap, nil
	}

	var w wireSnapshot
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.SourceTimestampMillis = int64(w.Timestamp)

	spots, err := decodeSpots(w.Spots)
	if err != nil {
		return models.ParkingSnapshot{}, err
	}
	snap.Spots = spots
	return snap, nil
}

func decodeSpots(raw json.RawMessage) ([]models.ParkingSpot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []models.ParkingSpot{}, nil
	}

	switch raw[0] {
	case '[':
		var list []*wireSpot
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode spots list: %w", err)
		}
		out := make([]models.ParkingSpot, 0, len(list))
		for i, ws := range list {
			if ws == nil {
				continue
			}
			out = append(out, ws.toModel(fmt.Sprintf("%d", i)))
		}
		return out, nil
	case '{':
		var byKey map[string]*wireSpot
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return nil, fmt.Errorf("decode spots map: %w", err)
		}
		keys := make([]string, 0, len(byKey))
		for k, ws := range byKey {
			if ws != nil {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return childKeyLess(keys[i], keys[j]) })
		out := make([]models.ParkingSpot, 0, len(keys))
		for _, k := range keys {
			out = append(out, byKey[k].toModel(k))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode spots: unexpected JSON %q", truncate(raw, 32))
	}
}

// childKeyLess orders child keys the way producers number them: keys that
// share a prefix and end in digits compare by that number, so e2 < e10.
func childKeyLess(a, b string) bool {
	pa, na, okA := splitNumericSuffix(a)
	pb, nb, okB := splitNumericSuffix(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(key string) (string, uint64, bool) {
	i := len(key)
	for i > 0 && key[i-1] >= '0' && key[i-1] <= '9' {
		i--
	}
	if i == len(key) {
		return key, 0, false
	}
	n, err := strconv.ParseUint(key[i:], 10, 64)
	if err != nil {
		return key, 0, false
	}
	return key[:i], n, true
}

func (w *wireSpot) toModel(key string) models.ParkingSpot {
	name := w.Name
	if name == "" {
		name = key
	}
	return models.ParkingSpot{Name: name, Occupied: w.Occupied, Distance: w.Distance}
}

// EncodeSnapshot produces the wire layout, keying spots as spot1..spotN.
func EncodeSnapshot(s models.ParkingSnapshot) (json.RawMessage, error) {
	spots := make(map[string]wireSpot, len(s.Spots))
	for i, sp := range s.Spots {
		spots[fmt.Sprintf("spot%02d", i+1)] = wireSpot{Name: sp.Name, Occupied: sp.Occupied, Distance: sp.Distance}
	}
	return json.Marshal(struct {
		Timestamp int64               `json:"timestamp"`
		Spots     map[string]wireSpot `json:"estacionamientos"`
	}{Timestamp: s.SourceTimestampMillis, Spots: spots})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
