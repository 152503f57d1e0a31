package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter asks interactive questions on in and prints prompts to out.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter returns a Prompter reading answers from in.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// YesNo asks question until the answer is yes/y or no/n (case insensitive).
// A closed input is treated as a refusal.
func (p *Prompter) YesNo(question string) (bool, error) {
	for {
		fmt.Fprintf(p.out, "\n%s (yes/no): ", question)
		answer, err := p.readLine()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		switch strings.ToLower(answer) {
		case "yes", "y":
			return true, nil
		case "no", "n":
			return false, nil
		default:
			fmt.Fprintln(p.out, "Please answer 'yes' or 'no'.")
		}
	}
}

// ConfirmCount is the double confirmation gate run before any remote mutation:
// a yes/no question, then the operator must type count.
func (p *Prompter) ConfirmCount(question string, count int) (bool, error) {
	ok, err := p.YesNo(question)
	if err != nil || !ok {
		fmt.Fprintln(p.out, "\nCancelled by user.")
		return false, err
	}

	fmt.Fprintf(p.out, "Please confirm by typing the number of servers being updated (%d): ", count)
	answer, err := p.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if answer != strconv.Itoa(count) {
		fmt.Fprintln(p.out, "\nConfirmation failed. Aborted.")
		return false, nil
	}
	return true, nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && line != "" && errors.Is(err, io.EOF) {
		// Last line without a trailing newline is still an answer.
		return line, nil
	}
	return line, err
}
