// Package reconcile merges check-in and photo evidence into the final
// per-student attendance roll. All functions here are pure: session state
// mutation stays in the session package so the decision policy can be
// tested in isolation.
package reconcile

import (
	"sort"
	"time"
)

// Decision is the final attendance outcome for one roster student.
type Decision string

const (
	Present         Decision = "PRESENT"
	Absent          Decision = "ABSENT"
	PresentInReview Decision = "PRESENT_UNVERIFIED_REVIEW"
)

// Evidence source labels recorded on each final record.
const (
	SourceCheckIn = "checkin"
	SourcePhoto   = "photo"
)

// CheckInEvidence is a confirmed code+face check-in for one student.
type CheckInEvidence struct {
	StudentID  string
	RedeemedAt time.Time
	Confidence float64
}

// PhotoEvidence is one above-threshold match from the group photo.
type PhotoEvidence struct {
	StudentID  string
	Confidence float64
}

// Record is one row of the final attendance roll.
type Record struct {
	StudentID  string   `json:"student_id"`
	Decision   Decision `json:"decision"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// Policy controls how photo-only evidence is graded. The review tier exists
// because a room photograph carries no liveness guarantee; deployments that
// trust the photo path can set PhotoOnly to Present.
type Policy struct {
	// PhotoThreshold is the minimum match confidence for a photo detection
	// to count as evidence at all.
	PhotoThreshold float64
	// PhotoOnly is the decision for students seen only in the photo.
	PhotoOnly Decision
}

// DefaultPolicy flags photo-only matches for teacher review.
func DefaultPolicy(photoThreshold float64) Policy {
	return Policy{PhotoThreshold: photoThreshold, PhotoOnly: PresentInReview}
}

// Finalize produces one record per roster student. Output order follows
// sorted student ids so the roll is deterministic for identical inputs.
func Finalize(roster []string, checkIns []CheckInEvidence, photo []PhotoEvidence, p Policy) []Record {
	byCheckIn := make(map[string]CheckInEvidence, len(checkIns))
	for _, ci := range checkIns {
		byCheckIn[ci.StudentID] = ci
	}

	byPhoto := make(map[string]PhotoEvidence, len(photo))
	for _, pe := range photo {
		if pe.StudentID == "" || pe.Confidence < p.PhotoThreshold {
			continue
		}
		if prev, ok := byPhoto[pe.StudentID]; !ok || pe.Confidence > prev.Confidence {
			byPhoto[pe.StudentID] = pe
		}
	}

	ids := make([]string, len(roster))
	copy(ids, roster)
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec := Record{StudentID: id, Decision: Absent}
		ci, checked := byCheckIn[id]
		pe, seen := byPhoto[id]
		switch {
		case checked:
			rec.Decision = Present
			rec.Sources = []string{SourceCheckIn}
			rec.Confidence = ci.Confidence
			if seen {
				rec.Sources = append(rec.Sources, SourcePhoto)
			}
		case seen:
			rec.Decision = p.PhotoOnly
			rec.Sources = []string{SourcePhoto}
			rec.Confidence = pe.Confidence
		}
		out = append(out, rec)
	}
	return out
}
