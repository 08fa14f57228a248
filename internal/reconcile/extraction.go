package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/store"
)

// ExtractedItem is one requirement statement as emitted by the extraction
// collaborator. Both the raw_claim/normalized_claim and the
// raw_text/normalized_text spellings are accepted.
type ExtractedItem struct {
	RawClaim        string            `json:"raw_claim,omitempty"`
	RawText         string            `json:"raw_text,omitempty"`
	NormalizedClaim string            `json:"normalized_claim,omitempty"`
	NormalizedText  string            `json:"normalized_text,omitempty"`
	Structured      *store.Structured `json:"structured,omitempty"`
	Confidence      string            `json:"confidence,omitempty"`
	EvidenceRefs    []string          `json:"evidence_refs,omitempty"`
}

// ExtractedCategory groups items under the collaborator's category key.
type ExtractedCategory struct {
	CategoryKey string          `json:"category_key"`
	Items       []ExtractedItem `json:"items"`
}

// Extraction is the collaborator's full output for one piece of source material.
type Extraction struct {
	ClubNameGuess   string              `json:"club_name_guess,omitempty"`
	Categories      []ExtractedCategory `json:"categories"`
	UnassignedItems []ExtractedItem     `json:"unassigned_items"`
}

// DecodeExtraction reads one extraction document. Malformed JSON is a
// validation failure.
func DecodeExtraction(r io.Reader) (*Extraction, error) {
	var x Extraction
	dec := json.NewDecoder(r)
	if err := dec.Decode(&x); err != nil {
		return nil, errs.NewValidationError("extraction", nil, fmt.Sprintf("decoding extraction output: %v", err))
	}
	return &x, nil
}

// DefaultEvidence assigns chunkID to every item that carries no evidence refs.
func (x *Extraction) DefaultEvidence(chunkID string) {
	if strings.TrimSpace(chunkID) == "" {
		return
	}
	fill := func(items []ExtractedItem) {
		for i := range items {
			if len(items[i].EvidenceRefs) == 0 {
				items[i].EvidenceRefs = []string{chunkID}
			}
		}
	}
	for i := range x.Categories {
		fill(x.Categories[i].Items)
	}
	fill(x.UnassignedItems)
}

// Batch flattens the extraction into candidate items in document order.
func (x *Extraction) Batch() Batch {
	var b Batch
	for _, cat := range x.Categories {
		for _, it := range cat.Items {
			b.Items = append(b.Items, it.candidate(cat.CategoryKey))
		}
	}
	for _, it := range x.UnassignedItems {
		b.Unassigned = append(b.Unassigned, it.candidate(""))
	}
	return b
}

func (it ExtractedItem) candidate(categoryKey string) CandidateItem {
	return CandidateItem{
		CategoryKey:    categoryKey,
		RawText:        firstNonEmpty(it.RawText, it.RawClaim),
		NormalizedText: firstNonEmpty(it.NormalizedText, it.NormalizedClaim),
		Structured:     it.Structured,
		Confidence:     store.Confidence(strings.ToLower(strings.TrimSpace(it.Confidence))),
		EvidenceRefs:   append([]string(nil), it.EvidenceRefs...),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
