package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "kizuna/internal/platform/errors"

	"kizuna/internal/domain"
)

const largeFileWarnBytes = 1 << 30

var destructivePatterns = []string{"rm -rf", "del /f", "format", "mkfs", "dd if="}

var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".webm"}

// Validate runs the per-verb semantic pass. Errors are fatal for the
// invocation; warnings are advisory and travel with the command.
func Validate(cmd ParsedCommand) (ValidatedCommand, error) {
	var warnings []ValidationWarning
	var err error

	switch cmd.Verb {
	case VerbDiscover:
		warnings, err = validateDiscover(cmd)
	case VerbSend:
		warnings, err = validateSend(cmd)
	case VerbReceive:
		warnings, err = validateReceive(cmd)
	case VerbStream:
		warnings, err = validateStream(cmd)
	case VerbExec:
		warnings, err = validateExec(cmd)
	case VerbConfig:
		err = validateConfig(cmd)
	case VerbClipboard:
		err = validateClipboard(cmd)
	case VerbQueue:
		err = validateQueue(cmd)
	case VerbBatch:
		err = validateBatch(cmd)
	case VerbTrust:
		err = validateTrust(cmd)
	}
	if err != nil {
		return ValidatedCommand{}, err
	}

	if format := cmd.Option("--format"); format != "" {
		if _, ok := domain.ParseOutputFormat(format); !ok {
			return ValidatedCommand{}, apperrors.InvalidArgumentValue(
				"--format", "must be one of table, json, csv, minimal")
		}
	}
	return ValidatedCommand{Command: cmd, Warnings: warnings}, nil
}

func validateDiscover(cmd ParsedCommand) ([]ValidationWarning, error) {
	var warnings []ValidationWarning
	if raw := cmd.Option("--timeout"); raw != "" {
		timeout, err := strconv.Atoi(raw)
		if err != nil || timeout <= 0 {
			return nil, apperrors.InvalidArgumentValue("--timeout", "must be a positive integer (seconds)")
		}
		if timeout > 300 {
			warnings = append(warnings, ValidationWarning{
				Field:      "--timeout",
				Message:    fmt.Sprintf("timeout of %ds is unusually long", timeout),
				Suggestion: "discovery typically completes within 10s",
			})
		}
	}
	return warnings, nil
}

func validateSend(cmd ParsedCommand) ([]ValidationWarning, error) {
	if cmd.Option("--batch-file") != "" {
		return nil, nil
	}
	// With --pipeline the files and peers may arrive on stdin; the router
	// rejects the command if they do not.
	piped := cmd.HasFlag("--pipeline")
	if len(cmd.Arguments) == 0 && !piped {
		return nil, apperrors.MissingArgument("file to send")
	}
	if cmd.Option("--peer") == "" && !cmd.HasFlag("--queue") && !piped {
		return nil, apperrors.MissingArgument("--peer")
	}

	var warnings []ValidationWarning
	for _, file := range cmd.Arguments {
		info, err := os.Stat(file)
		if err != nil {
			return nil, apperrors.InvalidArgumentValue("file", "does not exist: "+file)
		}
		if info.Size() > largeFileWarnBytes {
			warnings = append(warnings, ValidationWarning{
				Field:      "file",
				Message:    fmt.Sprintf("%s is larger than 1 GB", file),
				Suggestion: "large transfers benefit from --queue",
			})
		}
	}
	if cmd.HasFlag("--no-encryption") {
		warnings = append(warnings, ValidationWarning{
			Field:   "--no-encryption",
			Message: "transfer will not be encrypted",
		})
	}
	if raw := cmd.Option("--priority"); raw != "" {
		if _, ok := domain.ParsePriority(raw); !ok {
			return nil, apperrors.InvalidArgumentValue("--priority", "must be one of low, normal, high, urgent")
		}
	}
	return warnings, nil
}

func validateReceive(cmd ParsedCommand) ([]ValidationWarning, error) {
	var warnings []ValidationWarning
	if dir := cmd.Option("--output"); dir != "" {
		info, err := os.Stat(dir)
		switch {
		case err == nil && !info.IsDir():
			return nil, apperrors.InvalidArgumentValue("--output", dir+" exists and is not a directory")
		case err != nil:
			warnings = append(warnings, ValidationWarning{
				Field:   "--output",
				Message: dir + " does not exist and will be created",
			})
		}
	}
	return warnings, nil
}

func validateStream(cmd ParsedCommand) ([]ValidationWarning, error) {
	if q := cmd.Option("--quality"); q != "" && !domain.ValidStreamQuality(q) {
		return nil, apperrors.InvalidArgumentValue("--quality", "must be one of low, medium, high, ultra")
	}
	var warnings []ValidationWarning
	if cmd.HasFlag("--record") {
		out := cmd.Option("--output")
		if out != "" {
			if !hasVideoExtension(out) {
				warnings = append(warnings, ValidationWarning{
					Field:      "--output",
					Message:    out + " does not have a video extension",
					Suggestion: "use .mp4 or .mkv for recordings",
				})
			}
			if _, err := os.Stat(out); err == nil {
				warnings = append(warnings, ValidationWarning{
					Field:   "--output",
					Message: out + " already exists and will be overwritten",
				})
			}
		}
	}
	return warnings, nil
}

func validateExec(cmd ParsedCommand) ([]ValidationWarning, error) {
	if len(cmd.Arguments) == 0 {
		return nil, apperrors.MissingArgument("command to execute")
	}
	if cmd.Option("--peer") == "" {
		return nil, apperrors.MissingArgument("--peer")
	}
	if raw := cmd.Option("--timeout"); raw != "" {
		if timeout, err := strconv.Atoi(raw); err != nil || timeout <= 0 {
			return nil, apperrors.InvalidArgumentValue("--timeout", "must be a positive integer (seconds)")
		}
	}

	var warnings []ValidationWarning
	full := strings.ToLower(strings.Join(cmd.Arguments, " "))
	for _, pattern := range destructivePatterns {
		if strings.Contains(full, pattern) {
			warnings = append(warnings, ValidationWarning{
				Field:      "command",
				Message:    "command contains potentially destructive operations",
				Suggestion: "review before running on the remote device",
			})
			break
		}
	}
	return warnings, nil
}

func validateConfig(cmd ParsedCommand) error {
	switch cmd.Subcommand {
	case "set":
		if len(cmd.Arguments) < 2 {
			return apperrors.MissingArgument("config set requires a key and a value")
		}
	case "get":
		if len(cmd.Arguments) < 1 {
			return apperrors.MissingArgument("config get requires a key")
		}
	}
	return nil
}

func validateClipboard(cmd ParsedCommand) error {
	if cmd.Subcommand == "share" && cmd.HasFlag("--enable") && cmd.HasFlag("--disable") {
		return apperrors.InvalidArgumentValue("--enable", "mutually exclusive with --disable")
	}
	return nil
}

func validateQueue(cmd ParsedCommand) error {
	switch cmd.Subcommand {
	case "add":
		if len(cmd.Arguments) == 0 {
			return apperrors.MissingArgument("file to enqueue")
		}
		if cmd.Option("--peer") == "" {
			return apperrors.MissingArgument("--peer")
		}
	case "cancel", "pause", "resume":
		if len(cmd.Arguments) == 0 {
			return apperrors.MissingArgument("queue id")
		}
	case "priority":
		if len(cmd.Arguments) == 0 {
			return apperrors.MissingArgument("queue id")
		}
		if _, ok := domain.ParsePriority(cmd.Option("--priority")); !ok || cmd.Option("--priority") == "" {
			return apperrors.InvalidArgumentValue("--priority", "must be one of low, normal, high, urgent")
		}
	}
	return nil
}

func validateBatch(cmd ParsedCommand) error {
	if raw := cmd.Option("--max-concurrent"); raw != "" {
		if n, err := strconv.Atoi(raw); err != nil || n <= 0 {
			return apperrors.InvalidArgumentValue("--max-concurrent", "must be a positive integer")
		}
	}
	return nil
}

func validateTrust(cmd ParsedCommand) error {
	switch cmd.Subcommand {
	case "add", "remove":
		if len(cmd.Arguments) == 0 {
			return apperrors.MissingArgument("peer id")
		}
	case "verify":
		if len(cmd.Arguments) == 0 {
			return apperrors.MissingArgument("peer id")
		}
		if cmd.Option("--code") == "" {
			return apperrors.MissingArgument("--code")
		}
	}
	return nil
}

func hasVideoExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, v := range videoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}
