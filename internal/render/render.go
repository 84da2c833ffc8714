// Package render produces the audio artifact for a candidate: the session's
// fixed preview text spoken in the voice described by the candidate's
// instruction. Artifacts are addressed by (session, iteration, candidate id);
// an artifact that already exists is never re-rendered.
package render

import (
	"context"
	"fmt"
	"path/filepath"
)

// Request identifies one render: what to say, how to say it, and where the
// artifact belongs.
type Request struct {
	// PreviewText is the fixed text spoken for every candidate.
	PreviewText string

	// Instruct is the render-time instruction, including any avoidance
	// suffix. It is not necessarily the candidate's persisted text.
	Instruct string

	SessionID string
	IterNum   int
	CandID    string
}

// Renderer renders a candidate's audio artifact and returns its web-relative
// location.
//
// Renderers must be idempotent per (SessionID, IterNum, CandID): if the
// artifact already exists the external call is skipped. On failure a
// renderer may still return a usable placeholder path alongside the error;
// callers log the error and keep the placeholder.
type Renderer interface {
	Render(ctx context.Context, req Request) (string, error)
}

// ArtifactPath returns the on-disk path for a render request under dataDir.
func ArtifactPath(dataDir string, req Request) string {
	return filepath.Join(dataDir, "sessions", req.SessionID,
		fmt.Sprintf("iter_%d", req.IterNum), fmt.Sprintf("cand_%s.wav", req.CandID))
}

// RelativePath returns the web-facing path for a render request, served
// under the /data/ static mount.
func RelativePath(req Request) string {
	return fmt.Sprintf("/data/sessions/%s/iter_%d/cand_%s.wav", req.SessionID, req.IterNum, req.CandID)
}
