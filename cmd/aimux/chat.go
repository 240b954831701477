package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leofalp/aimux/providers/ai"
)

func chatCmd() *cobra.Command {
	var (
		system      string
		maxTokens   int
		temperature float32
		images      []string
		reasoning   bool
	)

	cmd := &cobra.Command{
		Use:   "chat <provider> <model> [prompt...]",
		Short: "Stream one chat completion",
		Long: `Send a single user message and stream the answer to stdout. Without a
prompt argument the message is read from stdin.

Examples:
  aimux chat openai gpt-4o "Summarize the Go memory model"
  git diff | aimux chat anthropic claude-sonnet-4 --system "Review this diff"
  aimux chat ollama llava "What is in the picture?" --image cat.png`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, model := args[0], args[1]

			prompt := strings.Join(args[2:], " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return errors.New("empty prompt")
			}

			message := ai.Message{Role: ai.RoleUser, Content: prompt}
			for _, image := range images {
				url, err := imageURL(image)
				if err != nil {
					return err
				}
				message.Images = append(message.Images, url)
			}

			provider, err := mux.Provider(ctx, key)
			if err != nil {
				return err
			}
			stream, err := provider.ChatCompletion(ctx, model, []ai.Message{message}, ai.ChatOptions{
				SystemPrompt: system,
				MaxTokens:    maxTokens,
				Temperature:  temperature,
			})
			if err != nil {
				return err
			}

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			var usage *ai.Usage
			for event, iterErr := range stream.Iter() {
				if iterErr != nil {
					fmt.Fprintln(out)
					return iterErr
				}
				switch event.Type {
				case ai.StreamEventContent:
					fmt.Fprint(out, event.Content)
				case ai.StreamEventReasoning:
					if reasoning {
						fmt.Fprint(errOut, event.Reasoning)
					}
				case ai.StreamEventToolCall:
					if event.ToolCall != nil && event.ToolCall.Name != "" {
						fmt.Fprintf(errOut, "\n[tool call %s]\n", event.ToolCall.Name)
					}
				case ai.StreamEventUsage:
					usage = event.Usage
				case ai.StreamEventDone:
					fmt.Fprintln(out)
					if event.FinishReason != "" && event.FinishReason != "stop" {
						fmt.Fprintf(errOut, "finish reason: %s\n", event.FinishReason)
					}
				}
			}

			if usage != nil {
				fmt.Fprintf(errOut, "tokens: %d prompt, %d completion, %d total\n",
					usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "completion token limit (0 uses the model default)")
	cmd.Flags().Float32Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().StringArrayVar(&images, "image", nil, "attach an image file or URL (repeatable)")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "print reasoning to stderr")
	return cmd
}

func tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <provider> <model> [text...]",
		Short: "Estimate how many tokens a text occupies",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[2:], " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read text: %w", err)
				}
				text = string(data)
			}

			provider, err := mux.Provider(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			count, err := provider.TokenCount(cmd.Context(), args[1], text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
}

// imageURL passes http(s) and data URLs through and turns a file into a
// data URL.
func imageURL(source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "data:") {
		return source, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", source, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
