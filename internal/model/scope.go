package model

import (
	"fmt"
	"time"
)

// Scope identifies a matchmaking pool: an organization ID, or the shared
// cross-organization pool used by service accounts when empty.
type Scope string

// ServiceScope is the merged cross-organization scope for service accounts.
const ServiceScope Scope = ""

// ScopeOf returns the scope for an optional organization ID.
func ScopeOf(orgID *string) Scope {
	if orgID == nil {
		return ServiceScope
	}
	return Scope(*orgID)
}

// IsService reports whether this is the cross-organization service scope.
func (s Scope) IsService() bool { return s == ServiceScope }

// OrgID returns the organization ID for an org-bound scope, or nil for the
// service scope.
func (s Scope) OrgID() *string {
	if s == ServiceScope {
		return nil
	}
	v := string(s)
	return &v
}

// Channel returns the fan-out channel name for this scope: the organization
// ID, or "service" for the shared service-account channel.
func (s Scope) Channel() string {
	if s == ServiceScope {
		return "service"
	}
	return string(s)
}

// DayTime is a wall-clock time of day with second precision, used for
// organization access windows.
type DayTime struct {
	Hour   int
	Minute int
	Second int
}

// DayTimeOf extracts the time of day from t in t's location.
func DayTimeOf(t time.Time) DayTime {
	return DayTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// ParseDayTime parses "HH:MM:SS" (the Postgres TIME text format).
func ParseDayTime(s string) (DayTime, error) {
	var d DayTime
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &d.Hour, &d.Minute, &d.Second); err != nil {
		return DayTime{}, fmt.Errorf("model: parse day time %q: %w", s, err)
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
		return DayTime{}, fmt.Errorf("model: day time %q out of range", s)
	}
	return d, nil
}

// Before reports whether d is strictly earlier in the day than o.
func (d DayTime) Before(o DayTime) bool {
	return d.seconds() < o.seconds()
}

// String formats the time as "HH:MM:SS".
func (d DayTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", d.Hour, d.Minute, d.Second)
}

func (d DayTime) seconds() int {
	return d.Hour*3600 + d.Minute*60 + d.Second
}
