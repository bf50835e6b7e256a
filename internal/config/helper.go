package config

import "fmt"

// CredentialHelper is the configured way to obtain registry credentials.
//
// The JSON form is a single command printing [{"id":"username","value":...},
// {"id":"password","value":...}]. The split form runs one command for the
// username and another for the password. In config files the JSON form is
// written as a plain string and the split form as an object.
type CredentialHelper struct {
	Command  string `mapstructure:"command"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// JSONHelper returns a helper of the JSON form.
func JSONHelper(command string) CredentialHelper {
	return CredentialHelper{Command: command}
}

// SplitHelper returns a helper of the split form.
func SplitHelper(usernameCmd, passwordCmd string) CredentialHelper {
	return CredentialHelper{Username: usernameCmd, Password: passwordCmd}
}

func (h CredentialHelper) IsZero() bool {
	return h == CredentialHelper{}
}

// IsJSON reports whether the helper is of the JSON form.
func (h CredentialHelper) IsJSON() bool {
	return h.Command != ""
}

// String shows the configured commands. Only commands are ever printed,
// never what they output.
func (h CredentialHelper) String() string {
	if h.IsJSON() {
		return fmt.Sprintf("json(%q)", h.Command)
	}
	return fmt.Sprintf("split(username: %q, password: %q)", h.Username, h.Password)
}

func (h CredentialHelper) GoString() string {
	return "config.CredentialHelper" + h.String()
}
