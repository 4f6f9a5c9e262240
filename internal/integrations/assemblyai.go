package integrations

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Transcript is the provider's view of a transcription job.
type Transcript struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued, processing, completed, error
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

type AssemblyAI struct {
	baseURL string
	http    *client
}

func NewAssemblyAI(apiKey, baseURL string) *AssemblyAI {
	if apiKey == "" {
		return nil
	}
	return &AssemblyAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: newClient("assemblyai", func(r *http.Request) {
			r.Header.Set("Authorization", apiKey)
		}),
	}
}

// Submit queues audio at a public URL for transcription.
func (a *AssemblyAI) Submit(ctx context.Context, audioURL string) (Transcript, error) {
	if a == nil {
		return Transcript{}, ErrNotConfigured
	}
	var out Transcript
	err := a.http.postJSON(ctx, a.baseURL+"/v2/transcript", map[string]string{"audio_url": audioURL}, &out)
	return out, err
}

func (a *AssemblyAI) Get(ctx context.Context, id string) (Transcript, error) {
	if a == nil {
		return Transcript{}, ErrNotConfigured
	}
	var out Transcript
	err := a.http.getJSON(ctx, a.baseURL+"/v2/transcript/"+url.PathEscape(id), &out)
	return out, err
}
