package parser

// Verb is one of the fixed command vocabulary entries.
type Verb string

const (
	VerbDiscover   Verb = "discover"
	VerbSend       Verb = "send"
	VerbReceive    Verb = "receive"
	VerbStream     Verb = "stream"
	VerbExec       Verb = "exec"
	VerbPeers      Verb = "peers"
	VerbStatus     Verb = "status"
	VerbClipboard  Verb = "clipboard"
	VerbTUI        Verb = "tui"
	VerbConfig     Verb = "config"
	VerbCompletion Verb = "completion"
	VerbQueue      Verb = "queue"
	VerbBatch      Verb = "batch"
	VerbHistory    Verb = "history"
	VerbTrust      Verb = "trust"
)

// Verbs lists the vocabulary in declaration order.
var Verbs = []Verb{
	VerbDiscover, VerbSend, VerbReceive, VerbStream, VerbExec,
	VerbPeers, VerbStatus, VerbClipboard, VerbTUI, VerbConfig,
	VerbCompletion, VerbQueue, VerbBatch, VerbHistory, VerbTrust,
}

// subcommands maps verbs to their accepted sub-verbs; verbs absent here take
// none.
var subcommands = map[Verb][]string{
	VerbStream:     {"camera"},
	VerbClipboard:  {"share", "status", "history"},
	VerbConfig:     {"get", "set", "list"},
	VerbCompletion: {"bash", "zsh", "fish", "powershell"},
	VerbQueue:      {"list", "add", "cancel", "pause", "resume", "priority", "stats"},
	VerbHistory:    {"show", "search", "clear"},
	VerbTrust:      {"list", "add", "remove", "pair", "verify"},
}

// commonOptions take a value and are accepted by every verb.
var commonOptions = []string{"--format"}

// commonFlags are boolean and accepted by every verb.
var commonFlags = []string{"--json", "--verbose", "--quiet", "--pipeline"}

// verbOptions lists per-verb value-taking options.
var verbOptions = map[Verb][]string{
	VerbDiscover:  {"--timeout", "--type", "--name", "--filter"},
	VerbSend:      {"--peer", "--batch-file", "--max-concurrent", "--priority"},
	VerbReceive:   {"--output"},
	VerbStream:    {"--quality", "--output", "--peer"},
	VerbExec:      {"--peer", "--timeout"},
	VerbPeers:     {"--filter"},
	VerbStatus:    {"--interval"},
	VerbClipboard: {"--peer", "--limit"},
	VerbConfig:    {"--profile"},
	VerbQueue:     {"--peer", "--priority"},
	VerbBatch:     {"--file", "--max-concurrent"},
	VerbHistory:   {"--limit"},
	VerbTrust:     {"--nickname", "--code"},
}

// verbFlags lists per-verb boolean flags.
var verbFlags = map[Verb][]string{
	VerbDiscover:  {"--watch", "--continuous"},
	VerbSend:      {"--no-encryption", "--no-compression", "--parallel", "--queue"},
	VerbReceive:   {"--auto-accept"},
	VerbStream:    {"--record"},
	VerbExec:      {},
	VerbStatus:    {"--watch"},
	VerbClipboard: {"--enable", "--disable"},
	VerbBatch:     {"--parallel"},
	VerbTrust:     {"--private-mode"},
}

// ParsedCommand is the structured result of a successful parse.
type ParsedCommand struct {
	Verb       Verb
	Subcommand string
	Arguments  []string
	Options    map[string]string
	Flags      map[string]bool
}

func NewParsedCommand(verb Verb) ParsedCommand {
	return ParsedCommand{
		Verb:    verb,
		Options: map[string]string{},
		Flags:   map[string]bool{},
	}
}

// Option returns the value of a value-taking option, "" when unset.
func (c ParsedCommand) Option(name string) string {
	return c.Options[name]
}

// HasFlag reports whether the boolean flag was supplied.
func (c ParsedCommand) HasFlag(name string) bool {
	return c.Flags[name]
}

// ValidationWarning is a non-fatal advisory produced by semantic validation.
type ValidationWarning struct {
	Field      string
	Message    string
	Suggestion string
}

func (w ValidationWarning) String() string {
	s := "Warning [" + w.Field + "]: " + w.Message
	if w.Suggestion != "" {
		s += "\n  Suggestion: " + w.Suggestion
	}
	return s
}

// ValidatedCommand bundles a command with the warnings validation produced.
type ValidatedCommand struct {
	Command  ParsedCommand
	Warnings []ValidationWarning
}

func optionsFor(verb Verb) []string {
	opts := append([]string{}, commonOptions...)
	return append(opts, verbOptions[verb]...)
}

func flagsFor(verb Verb) []string {
	flags := append([]string{}, commonFlags...)
	return append(flags, verbFlags[verb]...)
}
