package cli

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/ports"
	"github.com/anstrom/portsweep/internal/report"
)

// Lexical shapes of interactive input. Values that pass still go through
// netrange and ports parsing.
var (
	networkIDPattern = regexp.MustCompile(`^([0-9]{1,3}\.){3}[0-9]{1,3}$`)
	prefixPattern    = regexp.MustCompile(`^/?[0-9]{1,2}$`)
)

// errExitRequested is returned when the user answers a prompt with exit or quit.
var errExitRequested = stderrors.New("exit requested")

// inputField describes one value the scan command needs.
type inputField struct {
	name   string
	prompt string
	valid  func(string) bool
}

var (
	networkIDInput = inputField{
		name:   "network id",
		prompt: "Input a valid network id",
		valid:  networkIDPattern.MatchString,
	}
	prefixInput = inputField{
		name:   "network cidr",
		prompt: "Input a valid network cidr",
		valid:  prefixPattern.MatchString,
	}
	portsInput = inputField{
		name:   "port input",
		prompt: "Input a range of ports",
		valid:  ports.ValidSpec,
	}
)

// prompter reads missing scan inputs line by line.
type prompter struct {
	in      *bufio.Reader
	out     io.Writer
	console *report.Console
}

func newPrompter(in io.Reader, out io.Writer, console *report.Console) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, console: console}
}

// resolve returns value when it is set, otherwise the answer to the field's
// prompt. Either way the result must match the field's lexical shape.
func (p *prompter) resolve(value string, field inputField) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		answer, err := p.ask(field)
		if err != nil {
			return "", err
		}
		if isExitCommand(answer) {
			return "", errExitRequested
		}
		value = answer
	}

	if !field.valid(value) {
		return "", errors.NewInputError(field.name, value, fmt.Errorf("not a valid %s", field.name))
	}
	p.console.Printf(report.LevelDebug, "Valid input: %s", value)
	return value, nil
}

func (p *prompter) ask(field inputField) (string, error) {
	_, _ = fmt.Fprintln(p.out, field.prompt)

	line, err := p.in.ReadString('\n')
	if err != nil && (!stderrors.Is(err, io.EOF) || line == "") {
		return "", errors.NewInputError(field.name, "", fmt.Errorf("failed to read input: %w", err))
	}
	return strings.TrimSpace(line), nil
}

func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
