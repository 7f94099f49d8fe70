package models

import "time"

// Severity captures incident urgency levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Category enumerates incident classification groups.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryDataQuality Category = "data_quality"
	CategoryCompliance  Category = "compliance"
	CategoryGeneral     Category = "general"
)

// Status tracks incident progression through the response workflow.
type Status string

const (
	StatusNew          Status = "new"
	StatusContained    Status = "contained"
	StatusInvestigated Status = "investigated"
	StatusResolved     Status = "resolved"
	StatusRecovered    Status = "recovered"
	StatusDocumented   Status = "documented"
	StatusError        Status = "error"
)

// Incident is a structured record of a detected anomaly requiring tracked response.
type Incident struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Category    Category           `json:"category"`
	Severity    Severity           `json:"severity"`
	Description string             `json:"description"`
	Source      string             `json:"source"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`

	DetectedAt   time.Time  `json:"detected_at"`
	ClassifiedAt time.Time  `json:"classified_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`

	Status   Status `json:"status"`
	Degraded bool   `json:"degraded"`

	Tier               int  `json:"tier"`
	ManualIntervention bool `json:"manual_intervention"`

	AwaitingResolution  bool   `json:"awaiting_resolution"`
	ResolutionRequested bool   `json:"resolution_requested"`
	ResolutionNote      string `json:"resolution_note,omitempty"`

	TicketRef    string `json:"ticket_ref,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	LastError    string `json:"last_error,omitempty"`

	Escalations []EscalationRecord `json:"escalations,omitempty"`
	StepLog     []StepLogEntry     `json:"step_log,omitempty"`
}

// EscalationRecord captures a single tier transition.
type EscalationRecord struct {
	FromTier int       `json:"from_tier"`
	ToTier   int       `json:"to_tier"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// StepLogEntry records completion of one response-workflow step.
type StepLogEntry struct {
	Step   Step      `json:"step"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Signal is a raw candidate event emitted by a source before classification.
type Signal struct {
	Description string             `json:"description"`
	Source      string             `json:"source"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at,omitempty"`
}

// Active reports whether the incident still needs workflow or escalation attention.
func (i *Incident) Active() bool {
	switch i.Status {
	case StatusResolved, StatusRecovered, StatusDocumented, StatusError:
		return false
	}
	return true
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (i *Incident) Clone() Incident {
	out := *i
	if i.Metrics != nil {
		out.Metrics = make(map[string]float64, len(i.Metrics))
		for k, v := range i.Metrics {
			out.Metrics[k] = v
		}
	}
	out.Escalations = append([]EscalationRecord(nil), i.Escalations...)
	out.StepLog = append([]StepLogEntry(nil), i.StepLog...)
	return out
}

// ResponseBudget returns the severity-driven tier-1 response-time budget.
func ResponseBudget(sev Severity) time.Duration {
	switch sev {
	case SeverityCritical:
		return 15 * time.Minute
	case SeverityHigh:
		return 30 * time.Minute
	case SeverityMedium:
		return 60 * time.Minute
	default:
		return 240 * time.Minute
	}
}
