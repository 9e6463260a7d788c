package ai

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/genai"
)

// inlineAudioLimit is the largest file sent inline; bigger files go through
// the Files API.
const inlineAudioLimit = 18 << 20

const transcribePrompt = "Transcribe the speech in this audio verbatim. Return plain text only, without timestamps or speaker labels."

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// GeminiTranscriber transcribes audio with a Gemini model.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

// NewGeminiTranscriber creates a transcriber using model.
func NewGeminiTranscriber(ctx context.Context, apiKey, model string) (*GeminiTranscriber, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiTranscriber{client: client, model: NormalizeModel(model)}, nil
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	mimeType := audioMIMEType(path)

	var audio *genai.Part
	if info.Size() <= inlineAudioLimit {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("transcribe: %w", err)
		}
		audio = genai.NewPartFromBytes(data, mimeType)
	} else {
		file, err := t.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
		if err != nil {
			return "", fmt.Errorf("transcribe: upload audio: %w", err)
		}
		audio = genai.NewPartFromURI(file.URI, file.MIMEType)
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{audio, genai.NewPartFromText(transcribePrompt)}, genai.RoleUser)}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	})
	if err != nil {
		return "", &Error{Code: ClassifyError(err), Message: err.Error(), RetryAfter: RetryDelay(err)}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Code: CodeEmptyResponse, Message: "transcription was empty"}
	}
	return text, nil
}

func audioMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".opus", ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "audio/mpeg"
}
