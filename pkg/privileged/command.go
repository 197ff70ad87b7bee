package privileged

import (
	"fmt"
	"strings"
)

const (
	// DefaultScriptPath is the mount script invoked when none is configured
	DefaultScriptPath = "/etc/bootmount/mountall.sh"

	// DefaultShell interprets the mount script
	DefaultShell = "sh"
)

// Elevator selects how the script gains root
type Elevator string

const (
	// ElevatorSu runs `su -c "sh SCRIPT"`
	ElevatorSu Elevator = "su"

	// ElevatorSudo runs `sudo -n sh SCRIPT`; -n fails instead of prompting
	ElevatorSudo Elevator = "sudo"

	// ElevatorNone runs `sh SCRIPT` directly, for hosts already running as root
	ElevatorNone Elevator = "none"
)

// ParseElevator validates an elevator name
func ParseElevator(s string) (Elevator, error) {
	switch e := Elevator(strings.ToLower(strings.TrimSpace(s))); e {
	case ElevatorSu, ElevatorSudo, ElevatorNone:
		return e, nil
	case "":
		return ElevatorSu, nil
	default:
		return "", fmt.Errorf("unknown elevator %q (expected su, sudo or none)", s)
	}
}

// Command is the privileged mount invocation. It is built once at startup
// and never modified.
type Command struct {
	Elevator Elevator
	Script   string
}

// NewCommand builds the mount command for a script path
func NewCommand(elevator Elevator, script string) (Command, error) {
	if script == "" {
		return Command{}, fmt.Errorf("script path is required")
	}
	if !strings.HasPrefix(script, "/") {
		return Command{}, fmt.Errorf("script path must be absolute: %s", script)
	}
	if elevator == "" {
		elevator = ElevatorSu
	}
	if _, err := ParseElevator(string(elevator)); err != nil {
		return Command{}, err
	}
	return Command{Elevator: elevator, Script: script}, nil
}

// Argv returns the executable and its arguments
func (c Command) Argv() (string, []string) {
	switch c.Elevator {
	case ElevatorSudo:
		return "sudo", []string{"-n", DefaultShell, c.Script}
	case ElevatorNone:
		return DefaultShell, []string{c.Script}
	default:
		return "su", []string{"-c", DefaultShell + " " + shellQuote(c.Script)}
	}
}

// String renders the command line as it would be typed in a shell
func (c Command) String() string {
	name, args := c.Argv()
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote quotes s for sh unless it is made of safe characters only
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+=:,@", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
