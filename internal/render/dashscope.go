package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	dashScopeURL = "https://dashscope.aliyuncs.com/api/v1/services/audio/tts/customization"

	dashScopeModel  = "qwen-voice-design"
	dashScopeTarget = "qwen3-tts-vd-realtime-2025-12-16"

	// DefaultTimeout bounds one render round trip. A renderer that errors
	// must not block the batch forever; timeouts are render failures.
	DefaultTimeout = 60 * time.Second

	sampleRate = 24000
)

// DashScopeRenderer renders voice-design previews through the DashScope TTS
// customization API and stores them under DataDir.
type DashScopeRenderer struct {
	apiKey  string
	dataDir string
	client  *http.Client
}

// DashScopeConfig configures the renderer.
type DashScopeConfig struct {
	// APIKey authenticates against DashScope.
	APIKey string

	// DataDir is the root under which artifacts are written.
	DataDir string

	// Timeout bounds one render call. Default: DefaultTimeout.
	Timeout time.Duration
}

// NewDashScopeRenderer creates a renderer.
func NewDashScopeRenderer(cfg DashScopeConfig) (*DashScopeRenderer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("renderer: API key not configured")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("renderer: data dir not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DashScopeRenderer{
		apiKey:  cfg.APIKey,
		dataDir: cfg.DataDir,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type dashScopeRequest struct {
	Model      string              `json:"model"`
	Input      dashScopeInput      `json:"input"`
	Parameters dashScopeParameters `json:"parameters"`
}

type dashScopeInput struct {
	Action        string `json:"action"`
	VoicePrompt   string `json:"voice_prompt"`
	PreviewText   string `json:"preview_text"`
	TargetModel   string `json:"target_model"`
	PreferredName string `json:"preferred_name"`
}

type dashScopeParameters struct {
	SampleRate     int    `json:"sample_rate"`
	ResponseFormat string `json:"response_format"`
}

type dashScopeResponse struct {
	Output struct {
		PreviewAudio struct {
			Data string `json:"data"`
		} `json:"preview_audio"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Render produces the artifact for req. If the artifact file already exists
// the external call is skipped and the existing location returned. On API
// failure a silent placeholder is written in its place and returned together
// with the error, so players downstream never break on a missing file.
func (r *DashScopeRenderer) Render(ctx context.Context, req Request) (string, error) {
	outPath := ArtifactPath(r.dataDir, req)
	relPath := RelativePath(req)

	if _, err := os.Stat(outPath); err == nil {
		return relPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}

	audio, err := r.call(ctx, req)
	if err != nil {
		if perr := WriteSilence(outPath, time.Second); perr != nil {
			return "", fmt.Errorf("render failed (%v) and placeholder failed: %w", err, perr)
		}
		return relPath, fmt.Errorf("rendering %s: %w", req.CandID, err)
	}

	if err := os.WriteFile(outPath, audio, 0644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return relPath, nil
}

func (r *DashScopeRenderer) call(ctx context.Context, req Request) ([]byte, error) {
	body, err := json.Marshal(dashScopeRequest{
		Model: dashScopeModel,
		Input: dashScopeInput{
			Action:        "create",
			VoicePrompt:   req.Instruct,
			PreviewText:   req.PreviewText,
			TargetModel:   dashScopeTarget,
			PreferredName: "default",
		},
		Parameters: dashScopeParameters{
			SampleRate:     sampleRate,
			ResponseFormat: "wav",
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, dashScopeURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dashscope request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading dashscope response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashscope status %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	var parsed dashScopeResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decoding dashscope response: %w", err)
	}
	if parsed.Output.PreviewAudio.Data == "" {
		return nil, fmt.Errorf("dashscope response missing audio (code=%s message=%s)", parsed.Code, parsed.Message)
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.Output.PreviewAudio.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding audio payload: %w", err)
	}
	return audio, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Verify DashScopeRenderer satisfies the Renderer interface at compile time.
var _ Renderer = (*DashScopeRenderer)(nil)
