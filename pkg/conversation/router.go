package conversation

import "strings"

// Route classifies an inbound utterance before any LLM sees it.
type Route string

const (
	RouteIntentFragment Route = "intent_fragment"
	RouteCommand        Route = "command"
	RouteNoise          Route = "noise"
	RouteInterruption   Route = "interruption"
	RouteModeControl    Route = "mode_control"
)

// Command is the normalized orchestration command a routed utterance maps to.
type Command string

const (
	CommandHold   Command = "HOLD"
	CommandResume Command = "RESUME"
	CommandCancel Command = "CANCEL"
	CommandKill   Command = "KILL"
	CommandNone   Command = "NONE"
)

// Decision is the router's verdict for one utterance.
type Decision struct {
	Route   Route
	Command Command
}

// noiseWords are filler tokens; an utterance of at most two words drawn
// entirely from this set is dropped as noise.
var noiseWords = map[string]bool{
	"um": true, "uh": true, "umm": true, "uhh": true, "hmm": true,
	"hm": true, "mhm": true, "ah": true, "oh": true, "er": true,
	"erm": true, "like": true, "so": true, "well": true, "yeah": true,
	"ok": true, "okay": true,
}

// commandPhrases is the closed set of exact command phrases. Matching is
// case-insensitive after trimming terminal punctuation.
var commandPhrases = map[string]Command{
	"hold on":         CommandHold,
	"hold that":       CommandHold,
	"wait":            CommandHold,
	"pause":           CommandHold,
	"one second":      CommandHold,
	"one sec":         CommandHold,
	"give me a sec":   CommandHold,
	"resume":          CommandResume,
	"continue":        CommandResume,
	"go on":           CommandResume,
	"keep going":      CommandResume,
	"where were we":   CommandResume,
	"cancel":          CommandCancel,
	"cancel that":     CommandCancel,
	"never mind":      CommandCancel,
	"nevermind":       CommandCancel,
	"forget it":       CommandCancel,
	"scratch that":    CommandCancel,
	"start over":      CommandCancel,
	"stop":            CommandKill,
	"stop everything": CommandKill,
	"abort":           CommandKill,
	"kill it":         CommandKill,
	"shut up":         CommandKill,
}

// interruptionPhrases mark the user breaking into assistant output without
// issuing a command.
var interruptionPhrases = map[string]bool{
	"no no":        true,
	"no wait":      true,
	"not that":     true,
	"actually":     true,
	"hang on":      true,
	"thats not it": true,
	"wrong":        true,
}

func normalize(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!?,;:")
	t = strings.ReplaceAll(t, "'", "")
	return strings.Join(strings.Fields(t), " ")
}

// RouteUtterance applies the deterministic classification rules in order:
// noise, command, interruption, then intent_fragment as the common case.
func RouteUtterance(text string) Decision {
	t := normalize(text)
	if t == "" {
		return Decision{Route: RouteNoise, Command: CommandNone}
	}

	words := strings.Fields(t)
	if len(words) <= 2 {
		allNoise := true
		for _, w := range words {
			if !noiseWords[w] {
				allNoise = false
				break
			}
		}
		if allNoise {
			return Decision{Route: RouteNoise, Command: CommandNone}
		}
	}

	if cmd, ok := commandPhrases[t]; ok {
		return Decision{Route: RouteCommand, Command: cmd}
	}

	if interruptionPhrases[t] {
		return Decision{Route: RouteInterruption, Command: CommandNone}
	}

	return Decision{Route: RouteIntentFragment, Command: CommandNone}
}
