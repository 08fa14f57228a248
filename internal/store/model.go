package store

import "strings"

// Status is a claim's review state.
type Status string

const (
	StatusUnreviewed Status = "unreviewed"
	StatusAccepted   Status = "accepted"
	StatusDisputed   Status = "disputed"
	StatusOutdated   Status = "outdated"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnreviewed, StatusAccepted, StatusDisputed, StatusOutdated:
		return true
	}
	return false
}

// ParseStatus parses a status label case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Confidence is the coarse confidence label of a claim.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is low, medium or high.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Rank orders confidence labels: high > medium > low > unknown.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// ParseConfidence parses a confidence label case-insensitively.
func ParseConfidence(raw string) (Confidence, bool) {
	c := Confidence(strings.ToLower(strings.TrimSpace(raw)))
	return c, c.Valid()
}

// CategoryKey is the stable key of a requirement category.
type CategoryKey string

const (
	CategorySocial            CategoryKey = "social_requirement"
	CategoryVolunteerWork     CategoryKey = "volunteer_work_requirement"
	CategoryFundraising       CategoryKey = "fundraising_requirement"
	CategoryWorkThisWeek      CategoryKey = "work_this_week"
	CategorySignedUpWork      CategoryKey = "signed_up_for_work"
	CategorySignedUpVolunteer CategoryKey = "signed_up_for_volunteering"
	CategoryAttendance        CategoryKey = "attendance"
	CategoryAdmin             CategoryKey = "admin"
)

// FallbackCategory receives unassigned items and items with unknown keys.
const FallbackCategory = CategoryAdmin

// CategoryTemplate is a global category copied into every new club.
type CategoryTemplate struct {
	Key   CategoryKey
	Label string
}

// CategoryTemplates lists the categories seeded for each club, in display order.
var CategoryTemplates = []CategoryTemplate{
	{CategorySocial, "Social requirement"},
	{CategoryVolunteerWork, "Volunteer/work requirement"},
	{CategoryFundraising, "Fundraising requirement"},
	{CategoryWorkThisWeek, "Work this week"},
	{CategorySignedUpWork, "Signed up for work"},
	{CategorySignedUpVolunteer, "Signed up for volunteering"},
	{CategoryAttendance, "Attendance"},
	{CategoryAdmin, "Admin / miscellaneous"},
}

// NormalizeCategoryKey maps canonical and legacy category keys onto the closed
// key set. Unrecognized keys map to FallbackCategory with ok == false.
func NormalizeCategoryKey(raw string) (key CategoryKey, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "social_requirement", "social":
		return CategorySocial, true
	case "volunteer_work_requirement", "volunteer":
		return CategoryVolunteerWork, true
	case "fundraising_requirement", "fundraising":
		return CategoryFundraising, true
	case "work_this_week", "work_week":
		return CategoryWorkThisWeek, true
	case "signed_up_for_work", "work_signup":
		return CategorySignedUpWork, true
	case "signed_up_for_volunteering", "volunteer_signup":
		return CategorySignedUpVolunteer, true
	case "attendance", "points":
		return CategoryAttendance, true
	case "admin":
		return CategoryAdmin, true
	}
	return FallbackCategory, false
}

// SourceType is the kind of ingestion unit a Source represents.
type SourceType string

const (
	SourceGoogleSheet SourceType = "google_sheet"
	SourcePhoto       SourceType = "photo"
	SourcePaste       SourceType = "paste"
	SourceFile        SourceType = "file"
)

// ChunkKind tags an evidence chunk with the shape of its excerpt.
type ChunkKind string

const (
	ChunkSheetRange  ChunkKind = "sheet_range"
	ChunkOCRText     ChunkKind = "ocr_text"
	ChunkImageCrop   ChunkKind = "image_crop"
	ChunkPastedChunk ChunkKind = "pasted_chunk"
)

// Action tags a claim history entry.
type Action string

const (
	ActionCreate       Action = "create"
	ActionEdit         Action = "edit"
	ActionRecategorize Action = "recategorize"
	ActionMerge        Action = "merge"
	ActionSplit        Action = "split"
	ActionStatusChange Action = "status_change"
	ActionCorroborate  Action = "corroborate"
)
