// Package flagx lets each config loading stage parse only the flags it owns.
// A flag.FlagSet rejects unknown flags, so every stage first filters the
// command line down to its own names.
package flagx

import (
	"flag"
	"io"
	"strconv"
	"strings"
)

// Stage is the set of flags owned by one loading stage. Names are stored
// without leading dashes, so "-c" and "--c" are the same flag.
type Stage struct {
	values   map[string]struct{}
	switches map[string]struct{}
}

// NewStage declares flags that take a value.
func NewStage(values ...string) *Stage {
	s := &Stage{
		values:   make(map[string]struct{}, len(values)),
		switches: map[string]struct{}{},
	}
	for _, v := range values {
		s.values[bare(v)] = struct{}{}
	}
	return s
}

// WithSwitches declares boolean flags. A switch never consumes the argument
// that follows it.
func (s *Stage) WithSwitches(names ...string) *Stage {
	for _, n := range names {
		s.switches[bare(n)] = struct{}{}
	}
	return s
}

// Filter returns the arguments that belong to the stage, in order.
//
//	-d notes.db      value in the next argument
//	--d=notes.db     value after '='
//	-i -5            negative numbers are values, not flags
//
// Parsing stops at "--".
func (s *Stage) Filter(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !isFlag(arg) {
			continue
		}

		name, _, hasValue := strings.Cut(bare(arg), "=")
		if _, ok := s.switches[name]; ok {
			out = append(out, arg)
			continue
		}
		if _, ok := s.values[name]; !ok {
			continue
		}
		out = append(out, arg)
		if !hasValue && i+1 < len(args) && !isFlag(args[i+1]) {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// HasFlag reports whether the switch name is set in args. "-name",
// "--name" and "-name=true" turn it on; "-name=false" does not.
func HasFlag(args []string, name string) bool {
	fs := flag.NewFlagSet("switch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	on := fs.Bool(bare(name), false, "")
	_ = fs.Parse(NewStage().WithSwitches(name).Filter(args))
	return *on
}

// ConfigPath returns the JSON config file named by -c or -config, or "".
func ConfigPath(args []string) string {
	var path string
	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(NewStage("-c", "-config").Filter(args))
	return path
}

func bare(arg string) string {
	return strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
}

// isFlag reports whether arg starts a flag. "-" alone and negative numbers
// are plain values.
func isFlag(arg string) bool {
	if len(arg) < 2 || arg[0] != '-' {
		return false
	}
	_, err := strconv.ParseFloat(arg, 64)
	return err != nil
}
