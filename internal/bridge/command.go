package bridge

import "strings"

// Command names understood in chat. A message starting with "/" and one of
// these names is a command; anything else is a prompt for the agent.
const (
	CmdStatus    = "status"
	CmdHelp      = "help"
	CmdFF        = "ff"
	CmdWatch     = "watch"
	CmdStopWatch = "stopwatch"
	CmdAbort     = "abort"
	CmdMode      = "mode"
	CmdClear     = "clear"
	CmdCD        = "cd"
	CmdModel     = "model"

	// cmdPrompt names a plain prompt for the watch allow-list check.
	cmdPrompt = "prompt"
)

// Command is a parsed chat command.
type Command struct {
	Name string
	Args string
}

// ParseCommand recognizes "/name args". Unknown names are not commands, so
// agent slash commands such as "/compact" pass through as prompts.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	name, args, _ := strings.Cut(text[1:], " ")
	name = strings.ToLower(name)

	switch name {
	case CmdStatus, CmdHelp, CmdFF, CmdWatch, CmdStopWatch, CmdAbort, CmdMode, CmdClear, CmdCD, CmdModel:
		return Command{Name: name, Args: strings.TrimSpace(args)}, true
	default:
		return Command{}, false
	}
}

const helpText = "*Commands*\n" +
	"`/status` show the conversation state\n" +
	"`/ff` post turns made in the terminal since the last sync\n" +
	"`/watch` follow the session log live, `/stopwatch` to stop\n" +
	"`/abort` stop the running query or sync\n" +
	"`/mode <default|plan|acceptEdits|bypassPermissions>` set the permission mode\n" +
	"`/clear` start a fresh session\n" +
	"`/cd <dir>` change the working directory (starts a fresh session)\n" +
	"`/model [name]` show or set the model\n" +
	"Anything else is sent to the agent."
