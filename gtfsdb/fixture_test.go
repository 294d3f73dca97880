package gtfsdb

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tripcards.app/internal/appconf"
)

// testFeedFiles is a small two-direction line A-C-B. WK runs weekdays but is
// removed on Wednesday 2024-07-17, which WE picks up as an added date. OLD
// expired before the import window and must be pruned.
var testFeedFiles = map[string]string{
	"agency.txt": `agency_id,agency_name,agency_url,agency_timezone
MTA,Test Transit,https://example.com,America/New_York
`,
	"stops.txt": `stop_id,stop_name,stop_lat,stop_lon
A,Alpha,40.70,-74.01
B,Bravo,40.75,-73.99
C,Charlie,40.72,-74.00
`,
	"routes.txt": `route_id,agency_id,route_short_name,route_long_name,route_type
R1,MTA,1,Harbor Line,4
`,
	"calendar.txt": `service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
WK,1,1,1,1,1,0,0,20240101,20241231
WE,0,0,0,0,0,1,1,20240101,20241231
OLD,1,1,1,1,1,1,1,20230101,20231231
`,
	"calendar_dates.txt": `service_id,date,exception_type
WK,20240717,2
WE,20240717,1
`,
	"trips.txt": `route_id,service_id,trip_id,trip_headsign,direction_id
R1,WK,T1,Bravo,0
R1,WK,T2,Bravo,0
R1,WK,T3,Alpha,1
R1,WE,T4,Bravo,0
R1,OLD,T5,Bravo,0
R1,WK,T6,Bravo,0
R1,WK,T7,Alpha,1
`,
	"stop_times.txt": `trip_id,arrival_time,departure_time,stop_id,stop_sequence
T1,08:00:00,08:00:00,A,1
T1,08:05:00,08:05:00,C,2
T1,08:10:00,08:10:00,B,3
T2,08:30:00,08:30:00,A,1
T2,08:35:00,08:35:00,C,2
T2,08:40:00,08:40:00,B,3
T3,08:15:00,08:15:00,B,1
T3,08:20:00,08:20:00,C,2
T3,08:25:00,08:25:00,A,3
T4,09:00:00,09:00:00,A,1
T4,09:10:00,09:10:00,B,2
T5,07:00:00,07:00:00,A,1
T5,07:10:00,07:10:00,B,2
T6,24:50:00,24:50:00,A,1
T6,25:05:00,25:05:00,B,2
T7,10:00:00,10:00:00,B,1
T7,10:10:00,10:10:00,A,2
`,
}

var testWindow = ImportOptions{WindowStart: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), Days: 7}

func buildTestFeed(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range testFeedFiles {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// buildTestSnapshot imports the fixture feed into a fresh file and returns its path.
func buildTestSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ferry.db")
	client, err := NewClient(Config{DBPath: path, Env: appconf.Test})
	require.NoError(t, err)
	require.NoError(t, client.importBytes(context.Background(), buildTestFeed(t), "fixture", testWindow))
	require.NoError(t, client.Close())
	return path
}
