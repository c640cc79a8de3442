// Package prompt wraps promptui for the interactive bits of the ark CLI.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted reports that the user backed out of a prompt with Ctrl+C.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from the user cancelling a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, promptui.ErrInterrupt) ||
		errors.Is(err, promptui.ErrAbort)
}

// Confirm asks a yes/no question and returns the answer. Pressing enter
// picks defaultYes; Ctrl+C returns ErrAborted.
func Confirm(question string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", question, hint),
		IsConfirm: true,
	}

	answer, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports an explicit "n" as an error
		return false, nil
	case err != nil && answer == "":
		return defaultYes, nil
	case err != nil:
		return false, err
	}

	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}
