// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quillan-ai/quillan/pkg/logging"
	"github.com/quillan-ai/quillan/services/assistant/agent"
	"github.com/quillan-ai/quillan/services/assistant/config"
	"github.com/quillan-ai/quillan/services/assistant/evidence"
	"github.com/quillan-ai/quillan/services/assistant/llm"
	"github.com/quillan-ai/quillan/services/assistant/plan"
	"github.com/quillan-ai/quillan/services/assistant/tools"
)

const systemPrompt = `You are Quillan, a coding assistant working inside the
user's project. When a tool would help, emit a TOOL_CALL block:

TOOL_CALL:
  tool: <name>
  args:
    <key>: <value>

Use only the tools you were briefed on. When asked for a plan, respond
with a single JSON object and nothing else.`

func runChatCommand(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(flagProjectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(flagLogLevel),
		LogDir:  filepath.Join(cfg.DataDir, "logs"),
		Service: "quillan",
		JSON:    true,
		Quiet:   flagQuiet,
	})
	defer logger.Close()

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	graph, err := evidence.OpenGraph(cfg.GraphDir())
	if err != nil {
		return err
	}
	defer graph.Close()

	log, err := evidence.OpenLog(cfg.EvidenceDBPath(),
		evidence.WithGraph(graph),
		evidence.WithLogLogger(logger),
	)
	if err != nil {
		return err
	}
	defer log.Close()

	plans, err := plan.NewStore(cfg.PlansDir())
	if err != nil {
		return err
	}

	registry := tools.NewDefaultRegistry(nil, nil)
	discovery := tools.NewDiscoveryEngine(registry, tools.DefaultTriggers())
	if !discovery.CoreWithinCeiling() {
		return fmt.Errorf("core tool set costs %d tokens, over the %d ceiling",
			discovery.CoreTokenCost(), tools.CoreTokenCeiling)
	}

	loop := agent.NewChatLoop(adapter,
		agent.WithSystemPrompt(systemPrompt),
		agent.WithRetries(cfg.Retries),
		agent.WithMaxContinuations(cfg.MaxContinuations),
		agent.WithLoopLogger(logger),
	)

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	app, err := agent.NewApp(agent.AppDeps{
		Loop:        loop,
		Executor:    tools.NewExecutor(registry, log, logger),
		Registry:    registry,
		Discovery:   discovery,
		Plans:       plans,
		Log:         log,
		Logger:      logger,
		ProjectRoot: root,
		Confirm:     confirmFunc(interactive),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info("session starting", "provider", adapter.ProviderName(), "project_root", root)
	return repl(ctx, app, interactive)
}

// buildAdapter selects the provider adapter from config. Anthropic
// and Ollama share the HTTP transport; OpenAI rides its SDK.
func buildAdapter(cfg *config.Config) (agent.LLMAdapter, error) {
	transport := llm.NewHTTPTransport(cfg.RequestTimeout)

	switch cfg.Provider {
	case "anthropic":
		var opts []llm.AnthropicOption
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithAnthropicBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, llm.WithAnthropicModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, llm.WithAnthropicMaxTokens(cfg.MaxTokens))
		}
		return llm.NewAnthropicAdapter(transport, cfg.APIKey, opts...), nil

	case "openai":
		var opts []llm.OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, llm.WithOpenAIModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, llm.WithOpenAIMaxTokens(cfg.MaxTokens))
		}
		return llm.NewOpenAIAdapter(cfg.APIKey, opts...)

	case "ollama":
		var opts []llm.OllamaOption
		if cfg.BaseURL != "" {
			opts = append(opts, llm.WithOllamaBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, llm.WithOllamaModel(cfg.Model))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, llm.WithOllamaMaxTokens(cfg.MaxTokens))
		}
		return llm.NewOllamaAdapter(transport, opts...), nil

	case "mock":
		return llm.NewMockAdapter("mock provider: no model configured"), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// confirmFunc builds the gate for confirmation-required plan steps.
// Non-interactive runs never confirm.
func confirmFunc(interactive bool) agent.ConfirmFunc {
	if !interactive {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)
	return func(step plan.Step) bool {
		fmt.Printf("step %s runs %s (has failed before) - proceed? [y/N] ", step.StepID, step.Tool)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		return strings.TrimSpace(line) == "y"
	}
}

// repl is the foreground loop: read a line, dispatch it, then drain
// events until the turn settles. The network wait happens on the
// loop's background goroutine; this thread only blocks on stdin and
// the event channel.
func repl(ctx context.Context, app *agent.App, interactive bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prompt := ""
	if interactive {
		prompt = "quillan> "
		fmt.Println(`type /help for commands, /q to quit`)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if prompt != "" {
			fmt.Print(prompt)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		out, err := app.HandleInput(ctx, line)
		if errors.Is(err, agent.ErrQuitting) {
			return nil
		}
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
			if app.QuitRequested() {
				return nil
			}
			continue
		}

		if err := drainTurn(ctx, app); err != nil {
			return err
		}
	}
}

// drainTurn applies events until the current turn produces output or
// the context ends. Tool chains keep the turn open until their final
// response lands.
func drainTurn(ctx context.Context, app *agent.App) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-app.Events():
			out, err := app.HandleEvent(ctx, ev)
			if err != nil {
				fmt.Println("error:", err)
				return nil
			}
			if out == "" {
				continue
			}
			fmt.Println(out)
			if app.State() == agent.StateRunning && !strings.HasPrefix(out, "[") {
				return nil
			}
			if app.State() != agent.StateRunning {
				// Plan lane settled (PlanReady or PlanError).
				return nil
			}
		}
	}
}
