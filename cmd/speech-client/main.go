// Command speech-client exercises the gateway with the official OpenAI Go
// client, proving wire compatibility end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8000/v1", "gateway base URL")
		apiKey  = flag.String("key", "unused", "API key (required only when auth is enabled)")
		text    = flag.String("text", "你好，欢迎使用语音合成服务。", "text to synthesize")
		voiceID = flag.String("voice", "alloy", "voice name")
		format  = flag.String("format", "mp3", "response format (mp3, wav, flac, aac)")
		speed   = flag.Float64("speed", 1.0, "playback speed")
		out     = flag.String("out", "speech.mp3", "output file")
	)
	flag.Parse()

	cfg := openai.DefaultConfig(*apiKey)
	cfg.BaseURL = *baseURL
	client := openai.NewClientWithConfig(cfg)

	resp, err := client.CreateSpeech(context.Background(), openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          *text,
		Voice:          openai.SpeechVoice(*voiceID),
		ResponseFormat: openai.SpeechResponseFormat(*format),
		Speed:          *speed,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "synthesis request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Close()

	file, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	n, err := file.ReadFrom(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bytes to %s\n", n, *out)
}
