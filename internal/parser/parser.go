package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Command is one stage of a pipeline.
type Command struct {
	Argv []string
}

// Name is the program the stage runs.
func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return ""
	}
	return c.Argv[0]
}

func (c Command) Args() []string {
	if len(c.Argv) < 2 {
		return nil
	}
	return c.Argv[1:]
}

type Pipeline struct {
	Commands []Command
	// Input is read by the first stage when set.
	Input string
	// Output receives the last stage's stdout when set.
	Output string
	// Append opens Output for appending instead of truncating it.
	Append     bool
	Background bool
	// Text is the line as typed.
	Text string
}

func (p Pipeline) Empty() bool {
	return len(p.Commands) == 0
}

var ErrEmptyCommand = errors.New("empty command in pipeline")

// Parse splits a line on '|' into stages, detects a trailing '&' and pulls
// '<' off the first stage and '>' or '>>' off the last one. An empty line
// yields an empty pipeline.
func Parse(input string) (Pipeline, error) {
	p := Pipeline{Text: strings.TrimSpace(input)}

	trimmed := p.Text
	if strings.HasSuffix(trimmed, "&") {
		p.Background = true
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "&"))
	}
	if trimmed == "" {
		if p.Background {
			return Pipeline{}, ErrEmptyCommand
		}
		return p, nil
	}

	parts := strings.Split(trimmed, "|")
	for i, part := range parts {
		tokens := strings.Fields(part)
		clean, in, out, appendMode, err := parseRedirection(tokens)
		if err != nil {
			return Pipeline{}, err
		}
		if len(clean) == 0 {
			return Pipeline{}, ErrEmptyCommand
		}
		if in != "" {
			if i != 0 {
				return Pipeline{}, fmt.Errorf("input redirection is only allowed on the first command")
			}
			p.Input = in
		}
		if out != "" {
			if i != len(parts)-1 {
				return Pipeline{}, fmt.Errorf("output redirection is only allowed on the last command")
			}
			p.Output = out
			p.Append = appendMode
		}
		p.Commands = append(p.Commands, Command{Argv: clean})
	}
	return p, nil
}

func parseRedirection(tokens []string) (clean []string, inFile string, outFile string, appendMode bool, err error) {
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case ">", ">>", "<":
			if i+1 >= len(tokens) {
				return nil, "", "", false, fmt.Errorf("missing file name after %q", tokens[i])
			}
			switch tokens[i] {
			case ">":
				outFile = tokens[i+1]
				appendMode = false
			case ">>":
				outFile = tokens[i+1]
				appendMode = true
			case "<":
				inFile = tokens[i+1]
			}
			i++
		default:
			clean = append(clean, tokens[i])
		}
	}
	return
}
