package repository

import (
	"encoding/json"
	"time"

	"github.com/example/hazardscan/internal/analyzer"
)

// Status is the lifecycle state of an analysis record.
type Status string

// Lifecycle states. A record starts pending, is claimed into processing, and
// ends completed or failed. Only an explicit retry or the stuck-record reclaim
// move a record out of a terminal or stranded state.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnalysisRecord is one submitted artifact and the state of its assessment.
type AnalysisRecord struct {
	ID               string    `gorm:"primaryKey;size:36"`
	OwnerID          string    `gorm:"column:owner_id;size:36;index"`
	ArtifactLocation string    `gorm:"column:artifact_location;type:text"`
	OriginalName     string    `gorm:"column:original_name;size:255"`
	Status           Status    `gorm:"column:status;size:16;index:idx_status_submitted,priority:1"`
	Detections       string    `gorm:"column:detections;type:text"`
	RiskLevel        string    `gorm:"column:risk_level;size:16"`
	RiskDescription  string    `gorm:"column:risk_description;type:text"`
	ErrorMessage     string    `gorm:"column:error_message;type:text"`
	SubmittedAt      time.Time `gorm:"column:submitted_at;index:idx_status_submitted,priority:2"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// ParsedDetections decodes the serialized detection list.
func (r *AnalysisRecord) ParsedDetections() ([]analyzer.Detection, error) {
	if r.Detections == "" {
		return nil, nil
	}
	var detections []analyzer.Detection
	if err := json.Unmarshal([]byte(r.Detections), &detections); err != nil {
		return nil, err
	}
	return detections, nil
}

// EncodeDetections serializes a detection list for storage.
func EncodeDetections(detections []analyzer.Detection) (string, error) {
	if len(detections) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(detections)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// StatusCount is one row of the per-status aggregation.
type StatusCount struct {
	Status Status `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// RiskCount is one row of the per-risk-level aggregation over completed records.
type RiskCount struct {
	RiskLevel string `gorm:"column:risk_level"`
	Count     int64  `gorm:"column:count"`
}

// PaginatedRecords is a page of completed records with paging metadata.
type PaginatedRecords struct {
	Records    []*AnalysisRecord
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
}
