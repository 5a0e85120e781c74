package yanzi

import (
	"encoding/hex"
	"errors"
	"testing"
)

// statisticsHex is a 32 byte record:
// version 1, rssi 200, switches 3, time 3600, parent 01..08,
// rank 256, metric 128, free routes 10, free neighbours 5.
const statisticsHex = "01c80300100e0000" +
	"0102030405060708" +
	"000180000a05" +
	"00000000000000000000"

func TestDecodeStatistics(t *testing.T) {
	st, err := DecodeStatistics(statisticsHex)
	if err != nil {
		t.Fatalf("DecodeStatistics() error = %v", err)
	}

	want := RadioStatistics{
		Version:        1,
		ParentRSSI:     200,
		ParentSwitches: 3,
		ParentTime:     3600,
		Parent:         [8]uint8{1, 2, 3, 4, 5, 6, 7, 8},
		ParentRank:     256,
		ParentMetric:   128,
		FreeRoutes:     10,
		FreeNeighbors:  5,
	}
	if st != want {
		t.Errorf("DecodeStatistics() = %+v, want %+v", st, want)
	}

	fields := st.Fields()
	if fields["parent_rssi"] != int64(200) || fields["parent_time"] != int64(3600) {
		t.Errorf("Fields() = %v", fields)
	}
}

func TestDecodeStatisticsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not hex", "zz"},
		{"too short", "01c8"},
		{"too long", statisticsHex + "00"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeStatistics(tt.value); !errors.Is(err, ErrInvalidStatistics) {
				t.Errorf("DecodeStatistics(%q) error = %v, want ErrInvalidStatistics", tt.value, err)
			}
		})
	}
}

func TestStatisticsSize(t *testing.T) {
	raw, _ := hex.DecodeString(statisticsHex)
	if len(raw) != statisticsSize {
		t.Fatalf("fixture is %d bytes, want %d", len(raw), statisticsSize)
	}
}
