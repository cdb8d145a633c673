package metrics

import (
	"strconv"
	"time"

	"github.com/airmonio/airmon/internal/airbyte"
)

// Help texts, one per metric family. The two *_synced_total counters
// are recomputed from the job lookback window each cycle, so their
// wording spells out the reset semantics a consumer will observe.
const (
	helpConnectionStatus = "Connection status indicator (1 when the connection has this status)."
	helpConnectionInfo   = "Connection metadata carried as labels, value is always 1."
	helpConnectionAge    = "Unix timestamp the connection was created."
	helpConnections      = "Number of configured connections."
	helpConnsActive      = "Number of connections with status active."
	helpConnStreams      = "Number of streams configured on the connection."
	helpSources          = "Number of configured sources."
	helpDestinations     = "Number of configured destinations."
	helpJobsByStatus     = "Number of job runs in the polled window by status."
	helpLatestStatus     = "Status indicator of the most recent job run per connection."
	helpBytesSynced      = "Bytes synced by succeeded job runs, recomputed each cycle over the job lookback window; drops as runs age out appear as counter resets."
	helpRecordsSynced    = "Records synced by succeeded job runs, recomputed each cycle over the job lookback window; drops as runs age out appear as counter resets."
	helpFleetBytes       = "Bytes synced by succeeded job runs across all connections in the job lookback window."
	helpFleetRecords     = "Records synced by succeeded job runs across all connections in the job lookback window."
	helpAvgSuccessDur    = "Average duration of succeeded job runs in the job lookback window."
	helpJobRuns          = "Number of job runs per connection by status."
	helpLastSuccess      = "Unix timestamp of the most recent succeeded job run."
	helpJobDuration      = "Duration of a job run; elapsed time when still running."
)

// Input is the upstream state one poll cycle gathered.
type Input struct {
	Connections  []airbyte.Connection
	JobRuns      []airbyte.JobRun
	Sources      []airbyte.Source
	Destinations []airbyte.Destination
}

// Map converts upstream state into a fresh sample set. It is pure:
// the same inputs (including now) always yield the same samples in the
// same order. Malformed records are skipped and counted in the second
// return value; they never abort the cycle. Label sets carry only
// bounded-cardinality identifiers, never free text such as error
// messages, so output grows linearly with connections plus job runs.
func Map(in Input, now time.Time) ([]Sample, int) {
	samples := make([]Sample, 0, 9*len(in.Connections)+2*len(in.JobRuns))
	skipped := 0

	samples, connSkipped := mapConnections(samples, in.Connections)
	skipped += connSkipped

	samples, runSkipped := mapJobRuns(samples, in.JobRuns, now)
	skipped += runSkipped

	samples, invSkipped := mapInventory(samples, in.Sources, in.Destinations)
	skipped += invSkipped

	sortSamples(samples)

	return samples, skipped
}

func mapConnections(
	samples []Sample,
	conns []airbyte.Connection,
) ([]Sample, int) {
	skipped := 0
	active := 0
	total := 0
	seen := make(map[string]bool, len(conns))

	for _, conn := range conns {
		if !validConnection(conn) {
			skipped++

			continue
		}

		// Pagination drift can hand back the same connection twice;
		// a repeated sample would fail the whole scrape.
		if seen[conn.ID] {
			skipped++

			continue
		}

		seen[conn.ID] = true
		total++

		if conn.Status == airbyte.ConnectionActive {
			active++
		}

		// One 0/1 indicator per status value instead of encoding
		// the enum as a number.
		for _, status := range airbyte.ConnectionStatuses {
			value := 0.0
			if conn.Status == status {
				value = 1.0
			}

			samples = append(samples, Sample{
				Name: "airbyte_connection_status",
				Help: helpConnectionStatus,
				Labels: map[string]string{
					"connection_id": conn.ID,
					"name":          conn.Name,
					"status":        status,
				},
				Value: value,
				Kind:  KindGauge,
			})
		}

		samples = append(samples, Sample{
			Name: "airbyte_connection_info",
			Help: helpConnectionInfo,
			Labels: map[string]string{
				"connection_id":  conn.ID,
				"name":           conn.Name,
				"source_id":      conn.SourceID,
				"destination_id": conn.DestinationID,
				"schedule_type":  conn.Schedule.ScheduleType,
			},
			Value: 1,
			Kind:  KindGauge,
		})

		if conn.CreatedAt > 0 {
			samples = append(samples, Sample{
				Name: "airbyte_connection_created_timestamp_seconds",
				Help: helpConnectionAge,
				Labels: map[string]string{
					"connection_id": conn.ID,
					"name":          conn.Name,
				},
				Value: float64(conn.CreatedAt),
				Kind:  KindGauge,
			})
		}

		samples = append(samples, Sample{
			Name: "airbyte_connection_streams",
			Help: helpConnStreams,
			Labels: map[string]string{
				"connection_id": conn.ID,
				"name":          conn.Name,
			},
			Value: float64(len(conn.Configurations.Streams)),
			Kind:  KindGauge,
		})
	}

	samples = append(samples,
		Sample{
			Name:  "airbyte_connections",
			Help:  helpConnections,
			Value: float64(total),
			Kind:  KindGauge,
		},
		Sample{
			Name:  "airbyte_connections_active",
			Help:  helpConnsActive,
			Value: float64(active),
			Kind:  KindGauge,
		},
	)

	return samples, skipped
}

// connStats aggregates the valid job runs of one connection.
type connStats struct {
	latestStart   time.Time
	latestStatus  string
	bytesSynced   float64
	recordsSynced float64
	lastSuccess   time.Time
	byStatus      map[string]int
}

func mapJobRuns(
	samples []Sample,
	runs []airbyte.JobRun,
	now time.Time,
) ([]Sample, int) {
	skipped := 0
	byConn := make(map[string]*connStats)
	globalByStatus := make(map[string]int, len(airbyte.JobStatuses))
	seen := make(map[int64]bool, len(runs))

	var (
		fleetBytes     float64
		fleetRecords   float64
		successDurSum  float64
		successDurRuns int
	)

	for _, run := range runs {
		started, ended, ok := runTimes(run)
		if !ok {
			skipped++

			continue
		}

		if seen[run.ID] {
			skipped++

			continue
		}

		seen[run.ID] = true

		globalByStatus[run.Status]++

		stats := byConn[run.ConnectionID]
		if stats == nil {
			stats = &connStats{
				byStatus: make(map[string]int, len(airbyte.JobStatuses)),
			}
			byConn[run.ConnectionID] = stats
		}

		stats.byStatus[run.Status]++

		if started.After(stats.latestStart) {
			stats.latestStart = started
			stats.latestStatus = run.Status
		}

		if run.Status == airbyte.JobSucceeded {
			stats.bytesSynced += float64(run.BytesSynced)
			stats.recordsSynced += float64(run.RecordsSynced)

			fleetBytes += float64(run.BytesSynced)
			fleetRecords += float64(run.RecordsSynced)

			if !ended.IsZero() {
				successDurSum += ended.Sub(started).Seconds()
				successDurRuns++
			}

			finished := ended
			if finished.IsZero() {
				finished = started
			}

			if finished.After(stats.lastSuccess) {
				stats.lastSuccess = finished
			}
		}

		duration := now.Sub(started)
		if !ended.IsZero() {
			duration = ended.Sub(started)
		}

		if duration < 0 {
			duration = 0
		}

		samples = append(samples, Sample{
			Name: "airbyte_job_duration_seconds",
			Help: helpJobDuration,
			Labels: map[string]string{
				"connection_id": run.ConnectionID,
				"job_id":        strconv.FormatInt(run.ID, 10),
			},
			Value: duration.Seconds(),
			Kind:  KindGauge,
		})
	}

	for _, status := range airbyte.JobStatuses {
		samples = append(samples, Sample{
			Name: "airbyte_jobs_by_status",
			Help: helpJobsByStatus,
			Labels: map[string]string{
				"status": status,
			},
			Value: float64(globalByStatus[status]),
			Kind:  KindGauge,
		})
	}

	avgSuccessDur := 0.0
	if successDurRuns > 0 {
		avgSuccessDur = successDurSum / float64(successDurRuns)
	}

	samples = append(samples,
		Sample{
			Name:  "airbyte_jobs_bytes_synced",
			Help:  helpFleetBytes,
			Value: fleetBytes,
			Kind:  KindGauge,
		},
		Sample{
			Name:  "airbyte_jobs_records_synced",
			Help:  helpFleetRecords,
			Value: fleetRecords,
			Kind:  KindGauge,
		},
		Sample{
			Name:  "airbyte_jobs_avg_success_duration_seconds",
			Help:  helpAvgSuccessDur,
			Value: avgSuccessDur,
			Kind:  KindGauge,
		},
	)

	for connID, stats := range byConn {
		for _, status := range airbyte.JobStatuses {
			value := 0.0
			if stats.latestStatus == status {
				value = 1.0
			}

			samples = append(samples, Sample{
				Name: "airbyte_job_latest_status",
				Help: helpLatestStatus,
				Labels: map[string]string{
					"connection_id": connID,
					"status":        status,
				},
				Value: value,
				Kind:  KindGauge,
			})

			if count := stats.byStatus[status]; count > 0 {
				samples = append(samples, Sample{
					Name: "airbyte_job_runs",
					Help: helpJobRuns,
					Labels: map[string]string{
						"connection_id": connID,
						"status":        status,
					},
					Value: float64(count),
					Kind:  KindGauge,
				})
			}
		}

		samples = append(samples,
			Sample{
				Name: "airbyte_job_bytes_synced_total",
				Help: helpBytesSynced,
				Labels: map[string]string{
					"connection_id": connID,
				},
				Value: stats.bytesSynced,
				Kind:  KindCounter,
			},
			Sample{
				Name: "airbyte_job_records_synced_total",
				Help: helpRecordsSynced,
				Labels: map[string]string{
					"connection_id": connID,
				},
				Value: stats.recordsSynced,
				Kind:  KindCounter,
			},
		)

		if !stats.lastSuccess.IsZero() {
			samples = append(samples, Sample{
				Name: "airbyte_job_last_success_timestamp_seconds",
				Help: helpLastSuccess,
				Labels: map[string]string{
					"connection_id": connID,
				},
				Value: float64(stats.lastSuccess.Unix()),
				Kind:  KindGauge,
			})
		}
	}

	return samples, skipped
}

// mapInventory emits fleet-level counts of configured sources and
// destinations. Records that failed to decode arrive as zero values
// and count as skipped instead of inflating the totals.
func mapInventory(
	samples []Sample,
	sources []airbyte.Source,
	dests []airbyte.Destination,
) ([]Sample, int) {
	skipped := 0
	numSources := 0
	numDests := 0

	for _, src := range sources {
		if src.ID == "" {
			skipped++

			continue
		}

		numSources++
	}

	for _, dst := range dests {
		if dst.ID == "" {
			skipped++

			continue
		}

		numDests++
	}

	samples = append(samples,
		Sample{
			Name:  "airbyte_sources",
			Help:  helpSources,
			Value: float64(numSources),
			Kind:  KindGauge,
		},
		Sample{
			Name:  "airbyte_destinations",
			Help:  helpDestinations,
			Value: float64(numDests),
			Kind:  KindGauge,
		},
	)

	return samples, skipped
}

func validConnection(conn airbyte.Connection) bool {
	if conn.ID == "" {
		return false
	}

	for _, status := range airbyte.ConnectionStatuses {
		if conn.Status == status {
			return true
		}
	}

	return false
}

// runTimes validates a job run and parses its timestamps. A run with
// missing identifiers, an unknown status, negative counters, or an
// unparseable timestamp is malformed. The end time is zero while the
// run is still in flight.
func runTimes(run airbyte.JobRun) (started, ended time.Time, ok bool) {
	if run.ID == 0 || run.ConnectionID == "" {
		return time.Time{}, time.Time{}, false
	}

	known := false

	for _, status := range airbyte.JobStatuses {
		if run.Status == status {
			known = true

			break
		}
	}

	if !known {
		return time.Time{}, time.Time{}, false
	}

	if run.BytesSynced < 0 || run.RecordsSynced < 0 {
		return time.Time{}, time.Time{}, false
	}

	started, err := time.Parse(time.RFC3339, run.StartedAt)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	terminal := run.Status != airbyte.JobPending &&
		run.Status != airbyte.JobRunning

	if run.EndedAt != "" && terminal {
		ended, err = time.Parse(time.RFC3339, run.EndedAt)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
	}

	return started, ended, true
}
