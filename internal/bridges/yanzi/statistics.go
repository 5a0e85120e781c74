package yanzi

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// statisticsSize is the encoded size of RadioStatistics.
const statisticsSize = 32

// RadioStatistics is the mesh radio record carried, hex encoded, in the
// value of a "statistics" sample. Fields are little endian.
type RadioStatistics struct {
	Version        uint8     `json:"version"`
	ParentRSSI     uint8     `json:"parent_rssi"`
	ParentSwitches uint16    `json:"parent_switches"`
	ParentTime     uint32    `json:"parent_time"` // seconds since the last parent switch
	Parent         [8]uint8  `json:"parent"`      // low 8 bytes of the parent's IP address
	ParentRank     uint16    `json:"parent_rank"`
	ParentMetric   uint16    `json:"parent_metric"`
	FreeRoutes     uint8     `json:"free_routes"`
	FreeNeighbors  uint8     `json:"free_neighbors"`
	ReservedFuture [10]uint8 `json:"reserved_future"`
}

// DecodeStatistics parses the hex payload of a statistics sample.
func DecodeStatistics(value string) (RadioStatistics, error) {
	var st RadioStatistics

	raw, err := hex.DecodeString(value)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrInvalidStatistics, err)
	}
	if len(raw) != statisticsSize {
		return st, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidStatistics, len(raw), statisticsSize)
	}

	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &st); err != nil {
		return st, fmt.Errorf("%w: %w", ErrInvalidStatistics, err)
	}
	return st, nil
}

// Fields returns the numeric fields worth recording as a time series.
func (st RadioStatistics) Fields() map[string]any {
	return map[string]any{
		"parent_rssi":     int64(st.ParentRSSI),
		"parent_switches": int64(st.ParentSwitches),
		"parent_time":     int64(st.ParentTime),
		"parent_rank":     int64(st.ParentRank),
		"parent_metric":   int64(st.ParentMetric),
		"free_routes":     int64(st.FreeRoutes),
		"free_neighbors":  int64(st.FreeNeighbors),
	}
}
