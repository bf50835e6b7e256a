package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/aweris/wasmpkg/internal/config"
)

type helperField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// runHelper executes h and returns the credentials it printed.
func runHelper(ctx context.Context, h config.CredentialHelper) (Auth, error) {
	if h.IsJSON() {
		out, err := runCommand(ctx, h.Command)
		if err != nil {
			return Auth{}, err
		}
		return parseHelperJSON(h.Command, out)
	}

	username, err := runCommand(ctx, h.Username)
	if err != nil {
		return Auth{}, err
	}
	password, err := runCommand(ctx, h.Password)
	if err != nil {
		return Auth{}, err
	}
	return Auth{
		Username: strings.TrimSpace(string(username)),
		Password: strings.TrimSpace(string(password)),
	}, nil
}

func parseHelperJSON(command string, out []byte) (Auth, error) {
	var fields []helperField
	if err := json.Unmarshal(out, &fields); err != nil {
		// the output may hold secrets, so only its size is reported
		return Auth{}, fmt.Errorf("credential helper %q: output (%d bytes) is not a JSON array of {id, value}: %w",
			command, len(out), syntaxOnly(err))
	}

	var auth Auth
	var haveUser, havePass bool
	for _, f := range fields {
		switch f.ID {
		case "username":
			auth.Username, haveUser = f.Value, true
		case "password":
			auth.Password, havePass = f.Value, true
		}
	}
	if !haveUser {
		return Auth{}, fmt.Errorf("credential helper %q: output has no username field", command)
	}
	if !havePass {
		return Auth{}, fmt.Errorf("credential helper %q: output has no password field", command)
	}
	return auth, nil
}

// syntaxOnly drops the value-bearing parts of a json decode error.
func syntaxOnly(err error) error {
	switch e := err.(type) {
	case *json.SyntaxError:
		return fmt.Errorf("syntax error at offset %d", e.Offset)
	case *json.UnmarshalTypeError:
		return fmt.Errorf("unexpected %s at offset %d", e.Value, e.Offset)
	default:
		return errors.New("invalid JSON")
	}
}

func runCommand(ctx context.Context, command string) ([]byte, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("credential helper %q failed: %w: %s", command, err, firstLine(msg))
		}
		return nil, fmt.Errorf("credential helper %q failed: %w", command, err)
	}
	return stdout.Bytes(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
