package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const storytellerSystemPrompt = `You are a dramatic storyteller for a one night werewolf game played by five villagers. When a game ends, you tell a short atmospheric story about how the night went. Keep it to 2-3 sentences. Be gothic and dramatic. Never invent roles for the players.`

// Storyteller generates a dramatic story after a game ends.
// onChunk is called with each text chunk as it streams in.
type Storyteller interface {
	Tell(ctx context.Context, history []string, onChunk func(string)) (string, error)
}

// globalStoryteller is nil when no provider is configured (feature disabled).
var globalStoryteller Storyteller

// storyMessage streams narration to an area
type storyMessage struct {
	Type      string `json:"type"` // "story"
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Final     bool   `json:"final"`
}

type llmStoryteller struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (s *llmStoryteller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, s.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"What happened:\n"+strings.Join(history, "\n")+
				"\n\nTell a short dramatic story (2-3 sentences) about how this game ended."),
	}

	var fullText strings.Builder
	opts := append(s.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := s.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

// buildCallOpts builds LLM call options from the config.
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	var opts []llms.CallOption

	if cfg.StorytellerTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.StorytellerTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
			log.Printf("Storyteller: temperature=%.2f", f)
		} else {
			log.Printf("Storyteller: invalid temperature %q: %v", cfg.StorytellerTemperature, err)
		}
	}

	if cfg.StorytellerThinking != "" {
		mode := llms.ThinkingMode(cfg.StorytellerThinking)
		switch mode {
		case llms.ThinkingModeNone, llms.ThinkingModeLow, llms.ThinkingModeMedium, llms.ThinkingModeHigh, llms.ThinkingModeAuto:
			opts = append(opts, llms.WithThinkingMode(mode))
			log.Printf("Storyteller: thinking=%s", mode)
		default:
			log.Printf("Storyteller: invalid thinking %q (valid: none, low, medium, high, auto)", cfg.StorytellerThinking)
		}
	}

	return opts
}

// newStoryteller builds the storyteller for the configured provider.
// It returns nil, nil when no provider is set.
func newStoryteller(cfg AppConfig) (Storyteller, error) {
	model := cfg.StorytellerModel
	var llm llms.Model
	var err error

	switch cfg.StorytellerProvider {
	case "":
		return nil, nil
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(model))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(model))
	case "gemini":
		llm, err = googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		llm, err = openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.StorytellerURL == "" {
			return nil, fmt.Errorf("storyteller_url is required for openai-compatible provider")
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.StorytellerURL),
		}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown storyteller provider %q", cfg.StorytellerProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s (%s): %w", cfg.StorytellerProvider, model, err)
	}
	return &llmStoryteller{llm: llm, systemPrompt: storytellerSystemPrompt, callOpts: buildCallOpts(cfg)}, nil
}

// initStoryteller sets up the global storyteller from config.
func initStoryteller(cfg AppConfig) {
	st, err := newStoryteller(cfg)
	if err != nil {
		log.Printf("Storyteller: %v", err)
		return
	}
	if st == nil {
		log.Printf("Storyteller: disabled (set storyteller_provider to enable)")
		return
	}
	globalStoryteller = st
	log.Printf("Storyteller: %s model=%s", cfg.StorytellerProvider, cfg.StorytellerModel)
}

// describeResult turns a history entry into lines for the storyteller
func describeResult(result SessionResult) []string {
	names := make([]string, 0, len(result.Scores))
	for name := range result.Scores {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{fmt.Sprintf("The players were %s.", strings.Join(names, ", "))}
	var winners []string
	for _, name := range names {
		if result.Scores[name] > 0 {
			winners = append(winners, name)
		}
	}
	if len(winners) == 0 {
		lines = append(lines, "The game ended before anyone could claim victory.")
	} else {
		lines = append(lines, fmt.Sprintf("Victory went to %s.", strings.Join(winners, ", ")))
	}
	return lines
}

// maybeTellStory asynchronously streams a story about a finished session
// to everyone in the area. It only reads the result.
func maybeTellStory(areaName string, result SessionResult) {
	st := globalStoryteller
	if st == nil {
		return
	}
	currentHub := hub

	go func() {
		var mu sync.Mutex
		var buf strings.Builder

		// Flush goroutine: pushes partial text to clients every 300ms
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(300 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					text := strings.TrimSpace(buf.String())
					mu.Unlock()
					if text != "" {
						currentHub.broadcastJSON(areaName, storyMessage{Type: "story", SessionID: result.SessionID, Text: text})
					}
				case <-done:
					return
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := st.Tell(ctx, describeResult(result), func(chunk string) {
			mu.Lock()
			buf.WriteString(chunk)
			mu.Unlock()
		})
		close(done)

		if err != nil {
			log.Printf("maybeTellStory: storyteller error: %v", err)
			return
		}
		if text == "" {
			return
		}
		currentHub.broadcastJSON(areaName, storyMessage{Type: "story", SessionID: result.SessionID, Text: text, Final: true})
		log.Printf("Storyteller: completed story for session %s in area %s", result.SessionID, areaName)
	}()
}
