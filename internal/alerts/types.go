package alerts

import "time"

// Severity represents alert severity level
type Severity string

const (
	// SeverityWarning is for warning alerts
	SeverityWarning Severity = "warning"
	// SeverityCritical is for critical alerts
	SeverityCritical Severity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	// AlertTypeStoreDegraded is for backing-store failures that put decisions
	// into the configured fail mode
	AlertTypeStoreDegraded AlertType = "store_degraded"
	// AlertTypeStoreRecovered is for a store coming back after degradation
	AlertTypeStoreRecovered AlertType = "store_recovered"
)

// Alert represents an alert to be sent
type Alert struct {
	Type      AlertType
	Severity  Severity
	Component string
	Backend   string
	Message   string
	Timestamp time.Time
}

// AlertKey creates a unique key for deduplication
func (a *Alert) AlertKey() string {
	return a.Component + ":" + a.Backend + ":" + string(a.Type)
}

// AlertRecord represents a sent alert record for deduplication
type AlertRecord struct {
	AlertKey string
	SentAt   time.Time
	Count    int
}
