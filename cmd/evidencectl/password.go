package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
)

// hashPasswordCommand hashes the password given as the only argument, or the
// first line of standard input when no argument is given.
func hashPasswordCommand(c *cli.Context) error {
	password := c.Args().First()
	if password == "" {
		line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("password required as an argument or on stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, hash)
	return err
}
