package analyzer

import (
	"strings"
	"testing"
)

func TestDeriveRiskSingleHighHazard(t *testing.T) {
	level, description := DeriveRisk([]Detection{{Name: "knife", Confidence: 0.9}})

	if level != LevelHigh {
		t.Fatalf("expected high risk, got %s", level)
	}
	if !strings.Contains(description, "Sharp knife") {
		t.Fatalf("expected knife description, got %q", description)
	}
}

func TestDeriveRiskMaximumSeverityWins(t *testing.T) {
	level, description := DeriveRisk([]Detection{
		{Name: "sink", Confidence: 0.7},
		{Name: "stove", Confidence: 0.8},
		{Name: "fire", Confidence: 0.95},
	})

	if level != LevelHigh {
		t.Fatalf("expected high risk, got %s", level)
	}
	if !strings.Contains(description, "Fire hazard") {
		t.Fatalf("expected fire description, got %q", description)
	}
	if strings.Contains(description, "stove") || strings.Contains(description, "sink") {
		t.Fatalf("lower-severity descriptions should be excluded, got %q", description)
	}
}

func TestDeriveRiskTieIncludesAllMaxSeverityDescriptions(t *testing.T) {
	level, description := DeriveRisk([]Detection{
		{Name: "knife", Confidence: 0.9},
		{Name: "fire", Confidence: 0.8},
		{Name: "scissors", Confidence: 0.7},
	})

	if level != LevelHigh {
		t.Fatalf("expected high risk, got %s", level)
	}
	if !strings.Contains(description, "Sharp knife") || !strings.Contains(description, "Fire hazard") {
		t.Fatalf("expected both high-severity descriptions, got %q", description)
	}
}

func TestDeriveRiskNoHazardsIsSafe(t *testing.T) {
	level, description := DeriveRisk([]Detection{{Name: "safe_environment", Confidence: 0.95}})

	if level != LevelNone {
		t.Fatalf("expected none, got %s", level)
	}
	if description != SafeDescription {
		t.Fatalf("expected safe message, got %q", description)
	}

	level, description = DeriveRisk(nil)
	if level != LevelNone || description != SafeDescription {
		t.Fatalf("expected safe outcome for empty detections, got %s %q", level, description)
	}
}

func TestDeriveRiskIsMonotone(t *testing.T) {
	base := []Detection{{Name: "sink", Confidence: 0.6}}
	baseLevel, _ := DeriveRisk(base)

	extended := append(append([]Detection{}, base...), Detection{Name: "pool", Confidence: 0.9})
	extendedLevel, _ := DeriveRisk(extended)

	if extendedLevel.Rank() < baseLevel.Rank() {
		t.Fatalf("adding detections lowered risk: %s -> %s", baseLevel, extendedLevel)
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := Levels()
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Fatalf("expected %s to rank above %s", levels[i], levels[i-1])
		}
	}

	if Level("bogus").Rank() >= LevelNone.Rank() {
		t.Fatal("unknown level should rank below none")
	}
	if Level("bogus").Valid() {
		t.Fatal("unknown level should not be valid")
	}
}

func TestInfoForLevelFallsBackToNone(t *testing.T) {
	info := InfoForLevel(Level("bogus"))
	if info.Level != LevelNone {
		t.Fatalf("expected fallback to none, got %s", info.Level)
	}

	high := InfoForLevel(LevelHigh)
	if high.Color == "" || high.Description == "" {
		t.Fatalf("expected populated metadata, got %+v", high)
	}
}
