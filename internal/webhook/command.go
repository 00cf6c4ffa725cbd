package webhook

import "strings"

// Mention is the token that addresses the bot in a comment.
const Mention = "@prcopilot"

// CommandAction is a recognized bot subcommand.
type CommandAction string

const (
	CommandTriage CommandAction = "triage"
	CommandHelp   CommandAction = "help"
)

// Command is a parsed bot instruction.
type Command struct {
	Action CommandAction
}

// MentionsBot reports whether the comment addresses the bot at all,
// regardless of whether it carries a recognized subcommand.
func MentionsBot(body string) bool {
	return strings.Contains(strings.ToLower(body), Mention)
}

// ParseCommand scans a comment body for a bot command. Matching is
// case-insensitive and line-oriented: the first line containing the mention
// token plus a recognized subcommand wins. Returns nil when the comment is
// not addressed to the bot or carries no known subcommand.
func ParseCommand(body string) *Command {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, Mention) {
		return nil
	}

	for _, line := range strings.Split(lower, "\n") {
		if !strings.Contains(line, Mention) {
			continue
		}
		switch {
		case strings.Contains(line, "/triage"):
			return &Command{Action: CommandTriage}
		case strings.Contains(line, "/help"):
			return &Command{Action: CommandHelp}
		}
	}
	return nil
}
