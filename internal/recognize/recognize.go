// Package recognize turns one room photograph into a set of per-student
// detections. It never touches session state; the session manager is the
// only writer there.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"smartattend/internal/faceclient"
)

// ErrProcessing wraps recognizer/face-service failures so callers can tell
// them apart from bad requests; the session keeps its prior detections.
var ErrProcessing = errors.New("photo processing failed")

// Detection is one detected face with its best-match student. StudentID is
// empty for faces that matched no enrolled student.
type Detection struct {
	Region     string  `json:"region"`
	StudentID  string  `json:"student_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// detector is the slice of the face service used for batch detection.
type detector interface {
	DetectFaces(ctx context.Context, photoRef string) ([]faceclient.FaceMatch, error)
}

// Recognizer runs batch detection over a group photo.
type Recognizer struct {
	face detector
	log  *zap.Logger
}

// New creates a recognizer.
func New(face detector, log *zap.Logger) *Recognizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recognizer{face: face, log: log}
}

// Detect returns the deduplicated detections for one photo. Multiple faces
// matching the same student collapse to the highest-confidence one.
func (r *Recognizer) Detect(ctx context.Context, photoRef string) ([]Detection, error) {
	if photoRef == "" {
		return nil, fmt.Errorf("%w: empty photo reference", ErrProcessing)
	}
	faces, err := r.face.DetectFaces(ctx, photoRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessing, err)
	}

	dets := make([]Detection, 0, len(faces))
	for _, f := range faces {
		dets = append(dets, Detection{Region: f.Region, StudentID: f.StudentID, Confidence: f.Confidence})
	}
	dets = Dedupe(dets)
	r.log.Info("group photo processed",
		zap.Int("faces", len(faces)),
		zap.Int("detections", len(dets)))
	return dets, nil
}

// Dedupe keeps one detection per matched student, the highest-confidence
// one, and passes unmatched faces through untouched. Output is ordered by
// region for stable results.
func Dedupe(dets []Detection) []Detection {
	best := make(map[string]Detection)
	var unmatched []Detection
	for _, d := range dets {
		if d.StudentID == "" {
			unmatched = append(unmatched, d)
			continue
		}
		if prev, ok := best[d.StudentID]; !ok || d.Confidence > prev.Confidence {
			best[d.StudentID] = d
		}
	}
	out := make([]Detection, 0, len(best)+len(unmatched))
	for _, d := range best {
		out = append(out, d)
	}
	out = append(out, unmatched...)
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}
