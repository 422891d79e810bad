// Package faceclient calls the face recognition microservice. The service
// is a black box to this codebase: it holds the embedding gallery and
// answers match queries with confidence scores.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbedResult contains the embedding extracted from an enrollment sample.
type EmbedResult struct {
	Embedding     []float32 `json:"embedding"`
	Score         float64   `json:"score"`
	FacesDetected int       `json:"faces_detected"`
}

// VerifyResult contains a 1:1 verification against one student's templates.
type VerifyResult struct {
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// FaceMatch is one detected face in a group photo with its best gallery
// match. StudentID is empty when no enrolled student matched.
type FaceMatch struct {
	Region     string  `json:"region"`
	StudentID  string  `json:"student_id"`
	Confidence float64 `json:"confidence"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with canned results
// for environments without the face service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // batch detection can take a while
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Embed extracts an embedding from an enrollment sample.
func (c *Client) Embed(ctx context.Context, sampleRef string) (*EmbedResult, error) {
	if c.Skip {
		return &EmbedResult{Embedding: []float32{0.1, 0.2, 0.3}, Score: 0.95, FacesDetected: 1}, nil
	}
	if sampleRef == "" {
		return nil, fmt.Errorf("sample reference required")
	}
	var out EmbedResult
	if err := c.post(ctx, "/embed", map[string]string{"image_url": sampleRef}, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("no face detected in sample")
	}
	return &out, nil
}

// Enroll adds a sample to the student's gallery entry.
func (c *Client) Enroll(ctx context.Context, studentID, sampleRef string) error {
	if c.Skip {
		return nil
	}
	return c.post(ctx, "/enroll", map[string]string{
		"user_id":   studentID,
		"image_url": sampleRef,
	}, nil)
}

// Remove deletes a sample from the student's gallery entry.
func (c *Client) Remove(ctx context.Context, studentID, templateID string) error {
	if c.Skip {
		return nil
	}
	return c.post(ctx, "/remove", map[string]string{
		"user_id":     studentID,
		"template_id": templateID,
	}, nil)
}

// Verify compares a fresh sample against one student's enrolled templates
// and returns the best match confidence.
func (c *Client) Verify(ctx context.Context, studentID, sampleRef string) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{StudentID: studentID, Confidence: 0.92, Threshold: 0.45}, nil
	}
	var out VerifyResult
	if err := c.post(ctx, "/verify", map[string]string{
		"user_id":   studentID,
		"image_url": sampleRef,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectFaces runs batch detection over one room photograph, returning every
// detected face with its best gallery match.
func (c *Client) DetectFaces(ctx context.Context, photoRef string) ([]FaceMatch, error) {
	if c.Skip {
		return []FaceMatch{{Region: "mock-0", StudentID: "mock-student", Confidence: 0.9}}, nil
	}
	if photoRef == "" {
		return nil, fmt.Errorf("photo reference required")
	}
	var out struct {
		Faces []FaceMatch `json:"faces"`
	}
	if err := c.post(ctx, "/detect", map[string]string{"image_url": photoRef}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
