package agent

import "time"

// Report is a heartbeat sent by a running agent. Zero values mean "not
// reported" except for the counters, which are always taken.
type Report struct {
	Status         Status     `json:"status,omitempty"`
	PresenceStatus Status     `json:"presence_status,omitempty"`
	Ping           int        `json:"ping"`
	ServerCount    *int       `json:"server_count,omitempty"`
	UserCount      *int       `json:"user_count,omitempty"`
	CommandCount   *int       `json:"command_count,omitempty"`
	PID            int        `json:"pid,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
}

// Resolution is the outcome of applying a report.
type Resolution struct {
	Record Record
	// Rejected is set when a reported live status was overridden by a
	// persisted OFFLINE.
	Rejected bool
}

// Live reports whether s claims a running process.
func (s Status) Live() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND:
		return true
	}
	return false
}

// ResolveReport merges r into the currently persisted record. An OFFLINE
// record stays OFFLINE when the report claims a live status: an explicit
// stop wins over late heartbeats. The pid and start time only survive
// while the result is ONLINE.
func ResolveReport(current Record, r Report, now time.Time) Resolution {
	next := current
	res := Resolution{}

	status := r.Status
	if status == "" {
		status = current.Status
	}
	if current.Status == StatusOffline && status.Live() {
		status = StatusOffline
		res.Rejected = true
	}
	next.Status = status

	if r.PresenceStatus != "" {
		next.PresenceStatus = r.PresenceStatus
	}
	next.Ping = r.Ping
	if r.ServerCount != nil {
		next.ServerCount = *r.ServerCount
	}
	if r.UserCount != nil {
		next.UserCount = *r.UserCount
	}
	if r.CommandCount != nil {
		next.CommandCount = *r.CommandCount
	}

	switch next.Status {
	case StatusOnline:
		if r.PID > 0 {
			next.PID = r.PID
		}
		if r.StartTime != nil {
			t := *r.StartTime
			next.StartTime = &t
		}
	case StatusOffline:
		next.ClearProcess()
		next.Ping = 0
		if res.Rejected {
			next.PresenceStatus = StatusOffline
		}
	default:
		next.ClearProcess()
	}

	seen := now
	next.LastSeen = &seen
	next.UpdatedAt = now
	res.Record = next
	return res
}
