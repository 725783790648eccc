package parser

import (
	"sort"
	"strings"

	apperrors "kizuna/internal/platform/errors"
)

// Parse turns a token sequence (without the program name) into a
// ParsedCommand. Unknown verbs and options fail with a typed error carrying
// nearby alternatives.
func Parse(tokens []string) (ParsedCommand, error) {
	if len(tokens) == 0 {
		return ParsedCommand{}, apperrors.MissingArgument("command")
	}

	verb, ok := lookupVerb(tokens[0])
	if !ok {
		msg := tokens[0]
		if suggestions := SuggestVerbs(tokens[0]); len(suggestions) > 0 {
			msg += " (did you mean: " + strings.Join(suggestions, ", ") + "?)"
		}
		return ParsedCommand{}, apperrors.InvalidCommand(msg)
	}

	cmd := NewParsedCommand(verb)
	rest := tokens[1:]

	if subs := subcommands[verb]; len(subs) > 0 && len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		if !contains(subs, rest[0]) {
			return ParsedCommand{}, apperrors.InvalidArgumentValue(
				string(verb), "unknown subcommand "+rest[0]+", expected one of "+strings.Join(subs, ", "))
		}
		cmd.Subcommand = rest[0]
		rest = rest[1:]
	}

	opts := optionsFor(verb)
	flags := flagsFor(verb)

	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if !strings.HasPrefix(tok, "--") {
			cmd.Arguments = append(cmd.Arguments, tok)
			continue
		}
		name := tok
		var inlineValue string
		var hasInline bool
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			name, inlineValue, hasInline = tok[:eq], tok[eq+1:], true
		}
		switch {
		case contains(flags, name):
			if hasInline {
				return ParsedCommand{}, apperrors.InvalidArgumentValue(name, "flag does not take a value")
			}
			cmd.Flags[name] = true
		case contains(opts, name):
			if hasInline {
				cmd.Options[name] = inlineValue
				continue
			}
			if i+1 >= len(rest) {
				return ParsedCommand{}, apperrors.MissingArgument(name + " value")
			}
			i++
			cmd.Options[name] = rest[i]
		default:
			reason := "unknown option"
			if suggestions := SuggestOptions(name, verb); len(suggestions) > 0 {
				reason += " (did you mean: " + strings.Join(suggestions, ", ") + "?)"
			}
			return ParsedCommand{}, apperrors.InvalidArgumentValue(name, reason)
		}
	}
	return cmd, nil
}

// ParseLine splits a palette/history line on whitespace and parses it. A
// leading program name token is tolerated.
func ParseLine(line string) (ParsedCommand, error) {
	fields := strings.Fields(line)
	if len(fields) > 0 && fields[0] == "kizuna" {
		fields = fields[1:]
	}
	return Parse(fields)
}

// Format renders a command back into canonical token form: verb, subcommand,
// positionals, options sorted by name, then flags sorted by name. The inverse
// of Parse for every representable command.
func Format(cmd ParsedCommand) []string {
	tokens := []string{string(cmd.Verb)}
	if cmd.Subcommand != "" {
		tokens = append(tokens, cmd.Subcommand)
	}
	tokens = append(tokens, cmd.Arguments...)

	optNames := make([]string, 0, len(cmd.Options))
	for name := range cmd.Options {
		optNames = append(optNames, name)
	}
	sort.Strings(optNames)
	for _, name := range optNames {
		tokens = append(tokens, name, cmd.Options[name])
	}

	flagNames := make([]string, 0, len(cmd.Flags))
	for name, set := range cmd.Flags {
		if set {
			flagNames = append(flagNames, name)
		}
	}
	sort.Strings(flagNames)
	return append(tokens, flagNames...)
}

// FormatLine renders the command as a single shell-style line.
func FormatLine(cmd ParsedCommand) string {
	return strings.Join(Format(cmd), " ")
}

func lookupVerb(s string) (Verb, bool) {
	for _, v := range Verbs {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
