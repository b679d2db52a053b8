// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	flagProjectRoot string
	flagProvider    string
	flagModel       string
	flagLogLevel    string
	flagQuiet       bool

	rootCmd = &cobra.Command{
		Use:   "quillan",
		Short: "An evidence-grounded coding assistant for your terminal",
		Long: `Quillan is an interactive coding assistant. It chats about your
code, dispatches whitelisted tools, and turns larger requests into
reviewable, versioned plans grounded in its own execution history.`,
		SilenceUsage: true,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session in the current project",
		RunE:  runChatCommand,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the quillan version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("quillan", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", ".", "project directory the assistant operates on")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "LLM provider override (anthropic, openai, ollama, mock)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "model identifier override")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "suppress log output on stderr")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}
