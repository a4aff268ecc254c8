package models

// Health is the body of the liveness and readiness probes.
type Health struct {
	Status    HealthStatus `json:"status"`
	Time      Timestamp    `json:"time"`
	Version   string       `json:"version,omitempty"`
	BuildTime string       `json:"buildTime,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Providers  []ProviderStatus  `json:"providers"`
}

// SubsystemStatus covers in-process dependencies such as the geocode cache, the database
// and background workers.
type SubsystemStatus struct {
	Name    string         `json:"name"`
	Status  HealthStatus   `json:"status"`
	Detail  string         `json:"detail,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ProviderStatus reports one upstream reached through the resilient client.
type ProviderStatus struct {
	Provider            string       `json:"provider"`
	Status              HealthStatus `json:"status"`
	BaseURL             string       `json:"baseUrl,omitempty"`
	Circuit             string       `json:"circuit"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	Failovers           int          `json:"failovers"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	LastFailoverAt      *Timestamp   `json:"lastFailoverAt,omitempty"`
	Message             string       `json:"message,omitempty"`
}
