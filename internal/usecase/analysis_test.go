package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hazardscan/internal/analyzer"
	"github.com/example/hazardscan/internal/dispatcher"
	"github.com/example/hazardscan/internal/repository"
)

type stubRecords struct {
	created      []*repository.AnalysisRecord
	createErr    error
	findRecord   *repository.AnalysisRecord
	findErr      error
	findCalls    int
	statusCounts []repository.StatusCount
	riskCounts   []repository.RiskCount
	listed       *repository.PaginatedRecords
	completed    []*repository.AnalysisRecord
	listPageSize int
}

func (s *stubRecords) Create(ctx context.Context, record *repository.AnalysisRecord) error {
	s.created = append(s.created, record)
	return s.createErr
}

func (s *stubRecords) FindByID(ctx context.Context, id string) (*repository.AnalysisRecord, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findRecord != nil {
		return s.findRecord, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRecords) CountByStatus(ctx context.Context, ownerID string) ([]repository.StatusCount, error) {
	return s.statusCounts, nil
}

func (s *stubRecords) CountCompletedByRisk(ctx context.Context, ownerID string) ([]repository.RiskCount, error) {
	return s.riskCounts, nil
}

// ListCompleted pages over the completed slice with the repository's
// semantics: newest submission first, offset/limit, ceiling page count.
func (s *stubRecords) ListCompleted(ctx context.Context, ownerID string, page, pageSize int) (*repository.PaginatedRecords, error) {
	s.listPageSize = pageSize
	if s.listed != nil {
		return s.listed, nil
	}
	if s.completed == nil {
		return &repository.PaginatedRecords{Page: page, PageSize: pageSize}, nil
	}

	sorted := append([]*repository.AnalysisRecord(nil), s.completed...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SubmittedAt.After(sorted[j].SubmittedAt)
	})

	start := (page - 1) * pageSize
	if start > len(sorted) {
		start = len(sorted)
	}
	end := start + pageSize
	if end > len(sorted) {
		end = len(sorted)
	}

	return &repository.PaginatedRecords{
		Records:    sorted[start:end],
		Page:       page,
		PageSize:   pageSize,
		Total:      int64(len(s.completed)),
		TotalPages: (len(s.completed) + pageSize - 1) / pageSize,
	}, nil
}

type stubCache struct {
	values  map[string]string
	setKeys []string
	delKeys []string
	getErr  error
	setErr  error
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	return s.setErr
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", redis.Nil
}

func (s *stubCache) Del(ctx context.Context, key string) error {
	s.delKeys = append(s.delKeys, key)
	return nil
}

type stubArtifacts struct {
	saved   map[string][]byte
	saveErr error
}

func (s *stubArtifacts) Save(ctx context.Context, key, contentType string, reader io.Reader, size int64) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[key] = raw
	return "stored/" + key, nil
}

func (s *stubArtifacts) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type stubTrigger struct {
	processErr  error
	processedID string
	report      dispatcher.BatchReport
	onProcess   func()
}

func (s *stubTrigger) ProcessOne(ctx context.Context, id string) error {
	s.processedID = id
	if s.onProcess != nil {
		s.onProcess()
	}
	return s.processErr
}

func (s *stubTrigger) RetryFailed(ctx context.Context) (dispatcher.BatchReport, error) {
	return s.report, nil
}

func newTestUseCase(records *stubRecords, cache *stubCache, artifacts *stubArtifacts, trigger *stubTrigger) *AnalysisUseCase {
	uc := NewAnalysisUseCase(records, cache, artifacts, trigger, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestSubmitImageRejectsNonImagePayload(t *testing.T) {
	uc := newTestUseCase(&stubRecords{}, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	_, err := uc.SubmitImage(context.Background(), "owner-1", "notes.txt", []byte("plain text"))
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected ErrNotAnImage, got %v", err)
	}
}

func TestSubmitImageCreatesPendingRecord(t *testing.T) {
	records := &stubRecords{}
	artifacts := &stubArtifacts{}
	uc := newTestUseCase(records, &stubCache{}, artifacts, &stubTrigger{})

	view, err := uc.SubmitImage(context.Background(), "owner-1", "kitchen.png", encodePNG(t))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if view.Status != repository.StatusPending {
		t.Fatalf("expected pending, got %s", view.Status)
	}
	if view.ID == "" {
		t.Fatal("expected generated id")
	}

	if len(records.created) != 1 {
		t.Fatalf("expected one record created, got %d", len(records.created))
	}
	created := records.created[0]
	if created.OwnerID != "owner-1" || created.Status != repository.StatusPending {
		t.Fatalf("unexpected record: %+v", created)
	}
	if created.ArtifactLocation == "" {
		t.Fatal("expected artifact location recorded")
	}
	if created.SubmittedAt.IsZero() {
		t.Fatal("expected submission timestamp")
	}
	if len(artifacts.saved) != 1 {
		t.Fatalf("expected artifact persisted, got %d", len(artifacts.saved))
	}
}

func TestGetStatusEnforcesOwnership(t *testing.T) {
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "someone-else",
		Status:  repository.StatusCompleted,
	}}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	_, err := uc.GetStatus(context.Background(), "owner-1", "rec-1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetStatusUnknownRecord(t *testing.T) {
	uc := newTestUseCase(&stubRecords{}, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	_, err := uc.GetStatus(context.Background(), "owner-1", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStatusCachesTerminalResults(t *testing.T) {
	detections, _ := repository.EncodeDetections([]analyzer.Detection{{Name: "knife", Confidence: 0.9}})
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:              "rec-1",
		OwnerID:         "owner-1",
		Status:          repository.StatusCompleted,
		Detections:      detections,
		RiskLevel:       string(analyzer.LevelHigh),
		RiskDescription: "Sharp knife - cut risk",
	}}
	cache := &stubCache{}
	uc := newTestUseCase(records, cache, &stubArtifacts{}, &stubTrigger{})

	view, err := uc.GetStatus(context.Background(), "owner-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if view.RiskLevel != string(analyzer.LevelHigh) {
		t.Fatalf("expected high risk, got %q", view.RiskLevel)
	}
	if len(view.Detections) != 1 || view.Detections[0].Name != "knife" {
		t.Fatalf("unexpected detections: %+v", view.Detections)
	}
	if view.RiskInfo == nil || view.RiskInfo.Level != analyzer.LevelHigh {
		t.Fatalf("expected risk metadata, got %+v", view.RiskInfo)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "analysis:rec-1" {
		t.Fatalf("expected terminal result cached, got %v", cache.setKeys)
	}
}

func TestGetStatusServedFromCacheWithoutRepository(t *testing.T) {
	record := &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "owner-1",
		Status:  repository.StatusCompleted,
	}
	serialized, _ := json.Marshal(record)

	records := &stubRecords{}
	cache := &stubCache{values: map[string]string{"analysis:rec-1": string(serialized)}}
	uc := newTestUseCase(records, cache, &stubArtifacts{}, &stubTrigger{})

	view, err := uc.GetStatus(context.Background(), "owner-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if view.Status != repository.StatusCompleted {
		t.Fatalf("expected completed, got %s", view.Status)
	}
	if records.findCalls != 0 {
		t.Fatalf("expected cache hit to skip repository, got %d calls", records.findCalls)
	}
}

func TestGetStatusPendingRecordNotCached(t *testing.T) {
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "owner-1",
		Status:  repository.StatusPending,
	}}
	cache := &stubCache{}
	uc := newTestUseCase(records, cache, &stubArtifacts{}, &stubTrigger{})

	view, err := uc.GetStatus(context.Background(), "owner-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if view.Status != repository.StatusPending {
		t.Fatalf("expected pending, got %s", view.Status)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("non-terminal states must not be cached, got %v", cache.setKeys)
	}
}

func TestTriggerAnalysisConflict(t *testing.T) {
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "owner-1",
		Status:  repository.StatusProcessing,
	}}
	trigger := &stubTrigger{processErr: dispatcher.ErrAlreadyProcessing}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, trigger)

	err := uc.TriggerAnalysis(context.Background(), "owner-1", "rec-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTriggerAnalysisInvalidatesCacheAroundClaim(t *testing.T) {
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "owner-1",
		Status:  repository.StatusFailed,
	}}
	cache := &stubCache{}
	trigger := &stubTrigger{}
	delsAtClaim := -1
	trigger.onProcess = func() {
		delsAtClaim = len(cache.delKeys)
	}
	uc := newTestUseCase(records, cache, &stubArtifacts{}, trigger)

	if err := uc.TriggerAnalysis(context.Background(), "owner-1", "rec-1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if trigger.processedID != "rec-1" {
		t.Fatalf("expected dispatcher invoked for rec-1, got %q", trigger.processedID)
	}
	if delsAtClaim != 1 {
		t.Fatalf("expected stale entry dropped before the claim, got %d dels", delsAtClaim)
	}
	if len(cache.delKeys) != 2 || cache.delKeys[0] != "analysis:rec-1" || cache.delKeys[1] != "analysis:rec-1" {
		t.Fatalf("expected invalidation before and after the claim, got %v", cache.delKeys)
	}
}

func TestTriggerAnalysisForbiddenForOtherOwner(t *testing.T) {
	records := &stubRecords{findRecord: &repository.AnalysisRecord{
		ID:      "rec-1",
		OwnerID: "someone-else",
		Status:  repository.StatusFailed,
	}}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	err := uc.TriggerAnalysis(context.Background(), "owner-1", "rec-1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetStatsAggregatesCounts(t *testing.T) {
	records := &stubRecords{
		statusCounts: []repository.StatusCount{
			{Status: repository.StatusPending, Count: 2},
			{Status: repository.StatusCompleted, Count: 5},
			{Status: repository.StatusFailed, Count: 1},
		},
		riskCounts: []repository.RiskCount{
			{RiskLevel: "high", Count: 3},
			{RiskLevel: "none", Count: 2},
		},
	}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	stats, err := uc.GetStats(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if stats.Total != 8 {
		t.Fatalf("expected total 8, got %d", stats.Total)
	}
	if stats.ByStatus["pending"] != 2 || stats.ByStatus["completed"] != 5 || stats.ByStatus["processing"] != 0 {
		t.Fatalf("unexpected status counts: %+v", stats.ByStatus)
	}
	if stats.ByRiskLevel["high"] != 3 || stats.ByRiskLevel["critical"] != 0 {
		t.Fatalf("unexpected risk counts: %+v", stats.ByRiskLevel)
	}
}

func TestListCompletedClampsPageSize(t *testing.T) {
	records := &stubRecords{}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	if _, err := uc.ListCompleted(context.Background(), "owner-1", 0, 0); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if records.listPageSize != defaultPageSize {
		t.Fatalf("expected default page size, got %d", records.listPageSize)
	}

	if _, err := uc.ListCompleted(context.Background(), "owner-1", 1, 10_000); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if records.listPageSize != maxPageSize {
		t.Fatalf("expected clamped page size, got %d", records.listPageSize)
	}
}

func TestListCompletedSecondPageNewestFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	records := &stubRecords{}
	for i := 1; i <= 15; i++ {
		records.completed = append(records.completed, &repository.AnalysisRecord{
			ID:          fmt.Sprintf("rec-%02d", i),
			OwnerID:     "owner-1",
			Status:      repository.StatusCompleted,
			RiskLevel:   string(analyzer.LevelNone),
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	uc := newTestUseCase(records, &stubCache{}, &stubArtifacts{}, &stubTrigger{})

	listing, err := uc.ListCompleted(context.Background(), "owner-1", 2, 10)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if listing.Total != 15 || listing.TotalPages != 2 {
		t.Fatalf("expected 15 records over 2 pages, got total=%d pages=%d", listing.Total, listing.TotalPages)
	}
	if listing.Page != 2 || len(listing.Results) != 5 {
		t.Fatalf("expected the 5 remaining records on page 2, got page=%d len=%d", listing.Page, len(listing.Results))
	}
	for i, want := range []string{"rec-05", "rec-04", "rec-03", "rec-02", "rec-01"} {
		if listing.Results[i].ID != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, listing.Results[i].ID)
		}
	}
	for i := 1; i < len(listing.Results); i++ {
		if listing.Results[i].SubmittedAt.After(listing.Results[i-1].SubmittedAt) {
			t.Fatalf("results not in descending submission order at %d", i)
		}
	}
}
