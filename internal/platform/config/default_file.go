package config

import (
	"os"
	"path/filepath"

	apperrors "kizuna/internal/platform/errors"
)

// defaultFileTemplate is written when no config exists yet. Every option is
// present, commented out, at its default value.
const defaultFileTemplate = `# kizuna configuration
#
# Uncomment a line to override the built-in default. Command-line arguments
# always win over this file; an applied profile sits in between.

# Peer used when --peer is omitted.
# default_peer = ""

# Output format: table, json, csv, minimal.
# output_format = "table"

# Color mode: auto, always, never. Auto disables color when stdout is not a
# terminal, NO_COLOR is set, or TERM=dumb.
# color_mode = "auto"

# [transfer_settings]
# compression = true
# encryption = true
# default_download_path = ""
# auto_accept_trusted = false

# [stream_settings]
# default_quality = "medium"   # low, medium, high, ultra
# auto_record = false
# recording_path = ""

# Profiles overlay settings on top of the file. A profile may name a parent
# whose settings apply first (one level only).
#
# [profiles.work]
# description = "office defaults"
# [profiles.work.settings]
# "output_format" = "json"
# "transfer_settings.compression" = false
`

// EnsureDefaultFile writes the commented template if no config file exists.
func EnsureDefaultFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.IO(err)
	}
	if err := os.WriteFile(path, []byte(defaultFileTemplate), 0o644); err != nil {
		return apperrors.IO(err)
	}
	return nil
}
