package analyzer

import "strings"

// Level is the overall risk of an artifact on an ordered scale.
type Level string

// Risk levels from harmless to critical.
const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelRanks = map[Level]int{
	LevelNone:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank returns the position of the level in the severity ordering.
// Unknown levels rank below none.
func (l Level) Rank() int {
	if rank, ok := levelRanks[l]; ok {
		return rank
	}
	return -1
}

// Valid reports whether the level is one of the known values.
func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// Levels lists all known levels in ascending severity order.
func Levels() []Level {
	return []Level{LevelNone, LevelLow, LevelMedium, LevelHigh, LevelCritical}
}

// LevelInfo carries presentation metadata for a risk level.
type LevelInfo struct {
	Level       Level  `json:"level"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

var levelInfos = map[Level]LevelInfo{
	LevelNone:     {Level: LevelNone, Color: "#28a745", Description: "No hazards detected"},
	LevelLow:      {Level: LevelLow, Color: "#ffc107", Description: "Minor hazards detected"},
	LevelMedium:   {Level: LevelMedium, Color: "#fd7e14", Description: "Moderate hazards detected"},
	LevelHigh:     {Level: LevelHigh, Color: "#dc3545", Description: "High-risk hazards detected"},
	LevelCritical: {Level: LevelCritical, Color: "#721c24", Description: "Critical hazards detected"},
}

// InfoForLevel returns presentation metadata, falling back to none.
func InfoForLevel(l Level) LevelInfo {
	if info, ok := levelInfos[l]; ok {
		return info
	}
	return levelInfos[LevelNone]
}

type hazard struct {
	severity    Level
	description string
}

// hazardTable maps detectable objects to their severity and a human-readable
// description. Objects missing from the table do not contribute to risk.
var hazardTable = map[string]hazard{
	// Water-related hazards
	"water":   {LevelHigh, "Water hazard - potential drowning risk"},
	"pool":    {LevelHigh, "Swimming pool - supervision required"},
	"bathtub": {LevelMedium, "Bathtub with water - drowning risk"},
	"sink":    {LevelLow, "Water in sink - minor risk"},

	// Fire-related hazards
	"fire":    {LevelHigh, "Fire hazard - immediate danger"},
	"stove":   {LevelMedium, "Hot stove - burn risk"},
	"candle":  {LevelMedium, "Open flame - fire hazard"},
	"lighter": {LevelHigh, "Lighter - fire hazard"},

	// Sharp objects
	"knife":    {LevelHigh, "Sharp knife - cut risk"},
	"scissors": {LevelMedium, "Sharp scissors - injury risk"},
	"razor":    {LevelHigh, "Sharp razor - cut risk"},

	// Electrical hazards
	"electrical_outlet": {LevelHigh, "Electrical outlet - shock risk"},
	"power_cord":        {LevelMedium, "Power cord - electrical hazard"},
	"appliance":         {LevelMedium, "Electrical appliance - shock risk"},

	// Heights and falls
	"stairs":  {LevelMedium, "Stairs - fall risk"},
	"balcony": {LevelHigh, "Balcony - fall risk"},
	"window":  {LevelMedium, "Open window - fall risk"},

	// Traffic hazards
	"road":    {LevelHigh, "Road - traffic hazard"},
	"car":     {LevelMedium, "Vehicle - traffic hazard"},
	"bicycle": {LevelLow, "Bicycle - minor traffic risk"},

	// Chemicals and medicine
	"medicine":          {LevelHigh, "Medicine - poisoning risk"},
	"cleaning_supplies": {LevelMedium, "Cleaning supplies - chemical hazard"},
	"pills":             {LevelHigh, "Pills - poisoning risk"},

	// Small objects
	"small_object": {LevelMedium, "Small object - choking hazard"},
	"coin":         {LevelMedium, "Coin - choking hazard"},
	"button":       {LevelLow, "Small button - minor choking risk"},
}

// SafeDescription is reported when no detection maps to a hazard.
const SafeDescription = "Safe environment detected - no immediate hazards found"

// DeriveRisk reduces a detection list to one overall level plus a description.
// The maximum severity among the detections wins; the descriptions of every
// detection sharing that maximum are included, in detection order.
func DeriveRisk(detections []Detection) (Level, string) {
	highest := LevelNone
	for _, d := range detections {
		if h, ok := hazardTable[d.Name]; ok && h.severity.Rank() > highest.Rank() {
			highest = h.severity
		}
	}

	if highest == LevelNone {
		return LevelNone, SafeDescription
	}

	var descriptions []string
	seen := make(map[string]struct{})
	for _, d := range detections {
		h, ok := hazardTable[d.Name]
		if !ok || h.severity != highest {
			continue
		}
		if _, dup := seen[d.Name]; dup {
			continue
		}
		seen[d.Name] = struct{}{}
		descriptions = append(descriptions, h.description)
	}

	return highest, strings.Join(descriptions, "; ")
}
