package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// bodyTerminator ends a multi-line note body. Blank lines belong to the body.
const bodyTerminator = "."

// ReadLine prints prompt to w and reads one trimmed line from r. A last line
// without a trailing newline is still returned.
//
//	Title
//	> _
func ReadLine(r *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadPassword prompts on w and reads a password from the terminal without
// echo. The caller wipes the returned slice.
func ReadPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// ReadBody reads a note body: every line up to a line holding only "." or
// EOF. Line endings are normalized to '\n' and surrounding blank lines are
// dropped; blank lines inside the body are kept.
func ReadBody(r *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprintf(w, "%s\n(finish with a line containing only %q)\n", prompt, bodyTerminator); err != nil {
		return "", err
	}

	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == bodyTerminator {
			break
		}
		if err != nil {
			if len(line) > 0 {
				lines = append(lines, line)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		lines = append(lines, line)
	}

	return strings.Trim(strings.Join(lines, "\n"), "\n"), nil
}
