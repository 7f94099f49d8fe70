// Package archive files one immutable JSON artifact per incident for audit.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/onchainlabs1/sentinel/internal/models"
	"github.com/onchainlabs1/sentinel/internal/utils"
)

// ErrArtifactExists reports an attempt to rewrite an already filed artifact.
var ErrArtifactExists = errors.New("artifact already exists")

// Artifact is the durable audit record written for every incident.
type Artifact struct {
	IncidentID                 string             `json:"incident_id"`
	IncidentType               string             `json:"incident_type"`
	Severity                   string             `json:"severity"`
	DetectionTime              time.Time          `json:"detection_time"`
	ResolutionTime             time.Time          `json:"resolution_time"`
	Description                string             `json:"description"`
	Timeline                   []TimelineEntry    `json:"timeline"`
	ResponseActions            []string           `json:"response_actions"`
	RootCauseAnalysis          map[string]string  `json:"root_cause_analysis"`
	LessonsLearned             []string           `json:"lessons_learned"`
	ImprovementRecommendations []string           `json:"improvement_recommendations"`
}

// TimelineEntry is one chronological event in the artifact.
type TimelineEntry struct {
	At    time.Time `json:"at"`
	Event string    `json:"event"`
}

// Sink writes artifacts into a directory, append-only. File names are derived
// from the incident id and detection date, and an existing artifact is never
// overwritten.
type Sink struct {
	dir    string
	logger *slog.Logger
}

// NewSink ensures the artifact directory exists and returns a Sink.
func NewSink(dir string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// File renders the incident into an artifact and writes it. Returns the
// artifact path. Filing the same incident twice yields ErrArtifactExists;
// under concurrent writers O_EXCL guarantees exactly one wins.
func (s *Sink) File(inc models.Incident, recommendations []string) (string, error) {
	artifact := Build(inc, recommendations)
	path := s.Path(inc)

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return path, fmt.Errorf("%w: %s", ErrArtifactExists, path)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	s.logger.Info("artifact filed",
		slog.String("incident_id", inc.ID),
		slog.String("path", path))
	return path, nil
}

// Read loads an artifact back from disk.
func (s *Sink) Read(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	return artifact, nil
}

// Path returns the deterministic artifact path for an incident.
func (s *Sink) Path(inc models.Incident) string {
	name := fmt.Sprintf("incident-%s-%s.json", inc.ID, utils.DayStamp(inc.DetectedAt))
	return filepath.Join(s.dir, name)
}

// Build assembles the artifact from the incident record, its step log, and
// its escalation history. Failures surface here too: nothing is dropped.
func Build(inc models.Incident, recommendations []string) Artifact {
	timeline := make([]TimelineEntry, 0, len(inc.StepLog)+len(inc.Escalations)+1)
	timeline = append(timeline, TimelineEntry{At: inc.DetectedAt, Event: "incident detected by " + inc.Source})
	for _, entry := range inc.StepLog {
		event := fmt.Sprintf("step %s %s", entry.Step, entry.Status)
		if entry.Detail != "" {
			event += ": " + entry.Detail
		}
		timeline = append(timeline, TimelineEntry{At: entry.At, Event: event})
	}
	for _, esc := range inc.Escalations {
		timeline = append(timeline, TimelineEntry{
			At:    esc.At,
			Event: fmt.Sprintf("escalated tier %d -> %d (%s)", esc.FromTier, esc.ToTier, esc.Reason),
		})
	}
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].At.Before(timeline[j].At) })

	actions := make([]string, 0, len(inc.StepLog))
	for _, entry := range inc.StepLog {
		if entry.Detail == "" {
			continue
		}
		switch entry.Step {
		case models.StepNotification, models.StepContainment, models.StepRecovery:
			actions = append(actions, entry.Detail)
		}
	}

	rootCause := map[string]string{
		"type":     inc.Type,
		"category": string(inc.Category),
		"source":   inc.Source,
	}
	if inc.LastError != "" {
		rootCause["workflow_error"] = inc.LastError
	}
	if inc.ResolutionNote != "" {
		rootCause["resolution"] = inc.ResolutionNote
	}
	var resolved time.Time
	if inc.ResolvedAt != nil {
		resolved = *inc.ResolvedAt
		rootCause["response_minutes"] = fmt.Sprintf("%.1f", utils.DurationMinutes(inc.DetectedAt, resolved))
	}

	lessons := make([]string, 0, 2)
	if inc.Degraded {
		lessons = append(lessons, "signal matched no classification rule; review rule pack coverage")
	}
	if inc.ManualIntervention {
		lessons = append(lessons, "tier-4 budget exhausted; review executive escalation path")
	}
	if inc.Status == models.StatusError {
		lessons = append(lessons, "workflow halted on step failure; see root_cause_analysis.workflow_error")
	}

	return Artifact{
		IncidentID:                 inc.ID,
		IncidentType:               inc.Type,
		Severity:                   string(inc.Severity),
		DetectionTime:              inc.DetectedAt,
		ResolutionTime:             resolved,
		Description:                inc.Description,
		Timeline:                   timeline,
		ResponseActions:            actions,
		RootCauseAnalysis:          rootCause,
		LessonsLearned:             lessons,
		ImprovementRecommendations: append([]string(nil), recommendations...),
	}
}
