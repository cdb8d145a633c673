package metrics

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmonio/airmon/internal/airbyte"
)

var mapNow = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func conn(id, name, status string) airbyte.Connection {
	return airbyte.Connection{
		ID:            id,
		Name:          name,
		Status:        status,
		SourceID:      "src-1",
		DestinationID: "dst-1",
	}
}

func succeededRun(id int64, connID string, bytes, records int64) airbyte.JobRun {
	return airbyte.JobRun{
		ID:            id,
		ConnectionID:  connID,
		JobType:       "sync",
		Status:        airbyte.JobSucceeded,
		BytesSynced:   bytes,
		RecordsSynced: records,
		StartedAt:     "2026-08-27T10:00:00Z",
		EndedAt:       "2026-08-27T10:05:00Z",
	}
}

// find returns the single sample matching name and all given labels.
func find(t *testing.T, samples []Sample, name string, labels map[string]string) Sample {
	t.Helper()

	var matches []Sample

	for _, s := range samples {
		if s.Name != name {
			continue
		}

		ok := true

		for k, v := range labels {
			if s.Labels[k] != v {
				ok = false

				break
			}
		}

		if ok {
			matches = append(matches, s)
		}
	}

	require.Len(t, matches, 1, "sample %s%v", name, labels)

	return matches[0]
}

func TestMap_Deterministic(t *testing.T) {
	conns := []airbyte.Connection{
		conn("conn-2", "two", airbyte.ConnectionInactive),
		conn("conn-1", "one", airbyte.ConnectionActive),
	}
	runs := []airbyte.JobRun{
		succeededRun(2, "conn-2", 10, 1),
		succeededRun(1, "conn-1", 1024, 100),
	}

	in := Input{
		Connections:  conns,
		JobRuns:      runs,
		Sources:      []airbyte.Source{{ID: "src-1", Name: "pg"}},
		Destinations: []airbyte.Destination{{ID: "dst-1", Name: "wh"}},
	}

	first, skippedFirst := Map(in, mapNow)
	second, skippedSecond := Map(in, mapNow)

	assert.Equal(t, skippedFirst, skippedSecond)
	require.True(t, reflect.DeepEqual(first, second),
		"mapping the same input twice must yield identical sequences")

	// Ordering is part of the contract: name, then label signature.
	for i := 1; i < len(first); i++ {
		if first[i-1].Name == first[i].Name {
			assert.LessOrEqual(t,
				labelSignature(first[i-1].Labels),
				labelSignature(first[i].Labels),
			)
		} else {
			assert.Less(t, first[i-1].Name, first[i].Name)
		}
	}
}

func TestMap_ConnectionStatusIndicators(t *testing.T) {
	conns := []airbyte.Connection{
		conn("conn-1", "users", airbyte.ConnectionActive),
		conn("conn-2", "orders", airbyte.ConnectionInactive),
	}

	samples, skipped := Map(Input{Connections: conns}, mapNow)
	assert.Zero(t, skipped)

	assert.Equal(t, 1.0, find(t, samples, "airbyte_connection_status", map[string]string{
		"connection_id": "conn-1", "status": "active",
	}).Value)
	assert.Equal(t, 0.0, find(t, samples, "airbyte_connection_status", map[string]string{
		"connection_id": "conn-1", "status": "inactive",
	}).Value)
	assert.Equal(t, 1.0, find(t, samples, "airbyte_connection_status", map[string]string{
		"connection_id": "conn-2", "status": "inactive",
	}).Value)

	assert.Equal(t, 2.0, find(t, samples, "airbyte_connections", nil).Value)
	assert.Equal(t, 1.0, find(t, samples, "airbyte_connections_active", nil).Value)
}

func TestMap_JobRunSamples(t *testing.T) {
	conns := []airbyte.Connection{
		conn("conn-1", "users", airbyte.ConnectionActive),
	}
	runs := []airbyte.JobRun{
		succeededRun(1, "conn-1", 1024, 100),
	}

	samples, skipped := Map(Input{Connections: conns, JobRuns: runs}, mapNow)
	assert.Zero(t, skipped)

	bytes := find(t, samples, "airbyte_job_bytes_synced_total", map[string]string{
		"connection_id": "conn-1",
	})
	assert.Equal(t, 1024.0, bytes.Value)
	assert.Equal(t, KindCounter, bytes.Kind)
	// The value is windowed, the help text has to say so.
	assert.Contains(t, bytes.Help, "lookback window")

	records := find(t, samples, "airbyte_job_records_synced_total", map[string]string{
		"connection_id": "conn-1",
	})
	assert.Equal(t, 100.0, records.Value)

	duration := find(t, samples, "airbyte_job_duration_seconds", map[string]string{
		"connection_id": "conn-1", "job_id": "1",
	})
	assert.Equal(t, 300.0, duration.Value)

	assert.Equal(t, 1.0, find(t, samples, "airbyte_job_latest_status", map[string]string{
		"connection_id": "conn-1", "status": "succeeded",
	}).Value)
	assert.Equal(t, 0.0, find(t, samples, "airbyte_job_latest_status", map[string]string{
		"connection_id": "conn-1", "status": "failed",
	}).Value)
}

func TestMap_LatestRunWins(t *testing.T) {
	runs := []airbyte.JobRun{
		succeededRun(1, "conn-1", 10, 1),
		{
			ID:           2,
			ConnectionID: "conn-1",
			Status:       airbyte.JobFailed,
			StartedAt:    "2026-08-27T11:00:00Z",
			EndedAt:      "2026-08-27T11:01:00Z",
		},
	}

	samples, _ := Map(Input{JobRuns: runs}, mapNow)

	assert.Equal(t, 1.0, find(t, samples, "airbyte_job_latest_status", map[string]string{
		"connection_id": "conn-1", "status": "failed",
	}).Value)
	assert.Equal(t, 0.0, find(t, samples, "airbyte_job_latest_status", map[string]string{
		"connection_id": "conn-1", "status": "succeeded",
	}).Value)
}

func TestMap_RunningJobUsesElapsedTime(t *testing.T) {
	runs := []airbyte.JobRun{
		{
			ID:           7,
			ConnectionID: "conn-1",
			Status:       airbyte.JobRunning,
			StartedAt:    "2026-08-27T11:58:00Z",
		},
	}

	samples, _ := Map(Input{JobRuns: runs}, mapNow)

	duration := find(t, samples, "airbyte_job_duration_seconds", map[string]string{
		"job_id": "7",
	})
	assert.Equal(t, 120.0, duration.Value)
}

func TestMap_MalformedRunsSkipped(t *testing.T) {
	runs := []airbyte.JobRun{
		succeededRun(1, "conn-1", 1, 1),
		succeededRun(2, "conn-1", 2, 2),
		succeededRun(3, "conn-1", 3, 3),
		{ID: 4, ConnectionID: "", Status: airbyte.JobSucceeded}, // missing connection
	}

	samples, skipped := Map(Input{JobRuns: runs}, mapNow)

	assert.Equal(t, 1, skipped)

	durations := 0

	for _, s := range samples {
		if s.Name == "airbyte_job_duration_seconds" {
			durations++
		}
	}

	assert.Equal(t, 3, durations)
}

func TestMap_MalformedVariants(t *testing.T) {
	base := succeededRun(1, "conn-1", 1, 1)

	tests := []struct {
		name   string
		mutate func(*airbyte.JobRun)
	}{
		{"zero id", func(r *airbyte.JobRun) { r.ID = 0 }},
		{"unknown status", func(r *airbyte.JobRun) { r.Status = "exploded" }},
		{"negative bytes", func(r *airbyte.JobRun) { r.BytesSynced = -1 }},
		{"negative records", func(r *airbyte.JobRun) { r.RecordsSynced = -5 }},
		{"bad start time", func(r *airbyte.JobRun) { r.StartedAt = "yesterday" }},
		{"bad end time", func(r *airbyte.JobRun) { r.EndedAt = "later" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := base
			tt.mutate(&run)

			_, skipped := Map(Input{JobRuns: []airbyte.JobRun{run}}, mapNow)
			assert.Equal(t, 1, skipped)
		})
	}
}

func TestMap_MalformedConnectionSkipped(t *testing.T) {
	conns := []airbyte.Connection{
		conn("conn-1", "users", airbyte.ConnectionActive),
		{}, // zero value from a record that failed to decode
		conn("conn-3", "orders", "weird"),
	}

	samples, skipped := Map(Input{Connections: conns}, mapNow)

	assert.Equal(t, 2, skipped)
	assert.Equal(t, 1.0, find(t, samples, "airbyte_connections", nil).Value)
}

func TestMap_DuplicateRecordsDeduped(t *testing.T) {
	// The same connection and the same run delivered twice, as
	// pagination drift can produce. Emitting the sample twice would
	// fail the whole scrape, so the duplicate is dropped and counted.
	conns := []airbyte.Connection{
		conn("conn-1", "users", airbyte.ConnectionActive),
		conn("conn-1", "users", airbyte.ConnectionActive),
	}
	runs := []airbyte.JobRun{
		succeededRun(1, "conn-1", 1024, 100),
		succeededRun(1, "conn-1", 1024, 100),
	}

	samples, skipped := Map(Input{Connections: conns, JobRuns: runs}, mapNow)

	assert.Equal(t, 2, skipped)
	assert.Equal(t, 1.0, find(t, samples, "airbyte_connections", nil).Value)

	// find fails the test if a family matches more than once.
	find(t, samples, "airbyte_connection_info", map[string]string{
		"connection_id": "conn-1",
	})
	find(t, samples, "airbyte_job_duration_seconds", map[string]string{
		"job_id": "1",
	})

	// The duplicate run does not double the synced totals.
	assert.Equal(t, 1024.0, find(t, samples, "airbyte_job_bytes_synced_total", map[string]string{
		"connection_id": "conn-1",
	}).Value)
}

func TestMap_ConnectionStreamsCount(t *testing.T) {
	c := conn("conn-1", "users", airbyte.ConnectionActive)
	c.Configurations.Streams = []airbyte.ConnectionStream{
		{Name: "accounts"}, {Name: "events"},
	}

	samples, _ := Map(Input{Connections: []airbyte.Connection{c}}, mapNow)

	assert.Equal(t, 2.0, find(t, samples, "airbyte_connection_streams", map[string]string{
		"connection_id": "conn-1", "name": "users",
	}).Value)
}

func TestMap_FleetAggregates(t *testing.T) {
	runs := []airbyte.JobRun{
		succeededRun(1, "conn-1", 1024, 100),
		succeededRun(2, "conn-2", 976, 50),
		{
			ID:           3,
			ConnectionID: "conn-1",
			Status:       airbyte.JobFailed,
			BytesSynced:  999,
			StartedAt:    "2026-08-27T11:00:00Z",
			EndedAt:      "2026-08-27T11:01:00Z",
		},
	}

	samples, skipped := Map(Input{JobRuns: runs}, mapNow)
	assert.Zero(t, skipped)

	// Failed runs do not contribute to the fleet totals.
	assert.Equal(t, 2000.0, find(t, samples, "airbyte_jobs_bytes_synced", nil).Value)
	assert.Equal(t, 150.0, find(t, samples, "airbyte_jobs_records_synced", nil).Value)

	// Both succeeded runs took 300s.
	assert.Equal(t, 300.0, find(t, samples, "airbyte_jobs_avg_success_duration_seconds", nil).Value)
}

func TestMap_FleetAggregatesEmpty(t *testing.T) {
	samples, _ := Map(Input{}, mapNow)

	assert.Equal(t, 0.0, find(t, samples, "airbyte_jobs_bytes_synced", nil).Value)
	assert.Equal(t, 0.0, find(t, samples, "airbyte_jobs_avg_success_duration_seconds", nil).Value)
}

func TestMap_SourceAndDestinationCounts(t *testing.T) {
	in := Input{
		Sources: []airbyte.Source{
			{ID: "src-1", Name: "pg", SourceType: "postgres"},
			{ID: "src-2", Name: "mysql"},
			{}, // record that failed to decode
		},
		Destinations: []airbyte.Destination{
			{ID: "dst-1", Name: "wh", DestinationType: "snowflake"},
		},
	}

	samples, skipped := Map(in, mapNow)

	assert.Equal(t, 1, skipped)
	assert.Equal(t, 2.0, find(t, samples, "airbyte_sources", nil).Value)
	assert.Equal(t, 1.0, find(t, samples, "airbyte_destinations", nil).Value)
}

// allowedLabelKeys is the closed set of label keys the mapper may
// emit. Free-text fields such as error messages must never appear.
var allowedLabelKeys = map[string]bool{
	"connection_id":  true,
	"name":           true,
	"status":         true,
	"source_id":      true,
	"destination_id": true,
	"schedule_type":  true,
	"job_id":         true,
}

func TestMap_CardinalityBounded(t *testing.T) {
	conns := make([]airbyte.Connection, 0, 20)
	for i := 0; i < 20; i++ {
		conns = append(conns, conn(
			"conn-"+string(rune('a'+i)), "n", airbyte.ConnectionActive,
		))
	}

	runs := make([]airbyte.JobRun, 0, 50)
	for i := 0; i < 50; i++ {
		runs = append(runs, succeededRun(
			int64(i+1), conns[i%len(conns)].ID, 1, 1,
		))
	}

	samples, skipped := Map(Input{Connections: conns, JobRuns: runs}, mapNow)
	assert.Zero(t, skipped)

	// Linear bound: a fixed number of families per connection and
	// per run, plus constant fleet-level samples.
	assert.LessOrEqual(t, len(samples), 13*len(conns)+2*len(runs)+15)

	for _, s := range samples {
		for k := range s.Labels {
			assert.True(t, allowedLabelKeys[k],
				"unexpected label key %q on %s", k, s.Name)
		}
	}
}
