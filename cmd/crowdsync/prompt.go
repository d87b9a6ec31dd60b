package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/crowdmap/crowdsync/internal/ui"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)
}

// promptInput asks for a line of text. Without a terminal the line is read
// from stdin.
func promptInput(title string, secret bool) (string, error) {
	if !interactive() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read %s from stdin: %w", strings.ToLower(title), err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	var value string
	input := huh.NewInput().Title(title).Value(&value)
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	if err := input.Run(); err != nil {
		return "", err
	}
	return value, nil
}

// confirm asks a yes/no question. Without a terminal it refuses, so
// destructive commands need --yes in scripts.
func confirm(question string) (bool, error) {
	if !interactive() {
		return false, fmt.Errorf("%s: no terminal to confirm, pass --yes", question)
	}
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}
