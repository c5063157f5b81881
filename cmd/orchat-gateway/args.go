// ABOUTME: Minimal flag parsing shared by the administrative subcommands
// ABOUTME: Accepts "--name value", "--name=value" and bare boolean switches

package main

import (
	"fmt"
	"strings"
)

// parseFlags parses args against valued (flags taking a value) and switches
// (boolean flags). Positional arguments and unknown flags are errors.
func parseFlags(args []string, valued, switches []string) (map[string]string, error) {
	isValued := make(map[string]bool, len(valued))
	for _, name := range valued {
		isValued[name] = true
	}
	isSwitch := make(map[string]bool, len(switches))
	for _, name := range switches {
		isSwitch[name] = true
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isSwitch[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			out[name] = "true"
		case isValued[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			out[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return out, nil
}
