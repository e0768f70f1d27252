// Package utils provides utility functions.
package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirm prompts the user with msg and expects y/n on stdin. Returns true for yes.
// Anything other than y/yes, including EOF, counts as no.
func Confirm(msg string) bool {
	return ConfirmReader(msg, os.Stdin, os.Stdout)
}

// ConfirmReader is Confirm reading the answer from r and writing the prompt to w.
func ConfirmReader(msg string, r io.Reader, w io.Writer) bool {
	_, _ = fmt.Fprintf(w, "%s [y/N]: ", msg)
	br := bufio.NewReader(r)
	line, _ := br.ReadString('\n')
	resp := strings.TrimSpace(strings.ToLower(line))
	return resp == "y" || resp == "yes"
}
