// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import "strings"

// CommandKind enumerates the slash commands.
type CommandKind string

const (
	CommandQuit  CommandKind = "quit"
	CommandHelp  CommandKind = "help"
	CommandOpen  CommandKind = "open"
	CommandPlan  CommandKind = "plan"
	CommandApply CommandKind = "apply"
)

// Command is one parsed slash command.
type Command struct {
	// Kind is the command discriminator.
	Kind CommandKind

	// Arg is the trailing argument (path for /open, request for /plan).
	Arg string
}

// ParseCommand recognizes the slash commands.
//
// Description:
//
//	Commands are case-sensitive and require the leading slash:
//	/quit, /q, /exit, /help, /open <path>, /plan [request], /apply.
//	Anything else, including a leading ':' or an unknown or
//	wrongly-cased slash word, is chat input, not a command.
//
// Outputs:
//
//	Command - The parsed command when ok.
//	bool - Whether the input is a command at all.
func ParseCommand(input string) (Command, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}

	word, arg := trimmed, ""
	if idx := strings.IndexByte(trimmed, ' '); idx >= 0 {
		word = trimmed[:idx]
		arg = strings.TrimSpace(trimmed[idx+1:])
	}

	switch word {
	case "/quit", "/q", "/exit":
		return Command{Kind: CommandQuit}, true
	case "/help":
		return Command{Kind: CommandHelp}, true
	case "/open":
		return Command{Kind: CommandOpen, Arg: arg}, true
	case "/plan":
		return Command{Kind: CommandPlan, Arg: arg}, true
	case "/apply":
		return Command{Kind: CommandApply}, true
	default:
		return Command{}, false
	}
}

// HelpText is what /help prints.
const HelpText = `Commands:
  /quit, /q, /exit   exit the assistant
  /help              show this help
  /open <path>       load a file into the conversation
  /plan [request]    ask for a structured plan (or edit the pending one)
  /apply             execute the approved plan
Anything else is sent to the model as chat.`
