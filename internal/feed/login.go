package feed

import (
	"fmt"
	"strings"
)

// ReceiveOnlyPasscode is the APRS-IS passcode for clients that never transmit
const ReceiveOnlyPasscode = "-1"

// Credentials fill the APRS-IS login line
type Credentials struct {
	User       string
	Pass       string
	AppName    string
	AppVersion string
	Filter     string
}

// Validate rejects empty values and values that would split the login line
func (c Credentials) Validate() error {
	for _, f := range []struct {
		name, value string
	}{
		{"user", c.User},
		{"pass", c.Pass},
		{"app name", c.AppName},
		{"app version", c.AppVersion},
		{"filter", c.Filter},
	} {
		if f.value == "" {
			return fmt.Errorf("login %s is empty", f.name)
		}
		if strings.ContainsAny(f.value, " \t\r\n") {
			return fmt.Errorf("login %s contains whitespace: %q", f.name, f.value)
		}
	}
	return nil
}

// LoginLine renders the single line sent after connecting
func LoginLine(c Credentials) string {
	return fmt.Sprintf("user %s pass %s vers %s %s filter %s\r\n",
		c.User, c.Pass, c.AppName, c.AppVersion, c.Filter)
}

// parseLogresp recognises "# logresp CALL verified, server NAME" and reports
// whether the login was verified.
func parseLogresp(line string) (verified bool, ok bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	if len(fields) < 3 || fields[0] != "logresp" {
		return false, false
	}
	switch strings.TrimSuffix(fields[2], ",") {
	case "verified":
		return true, true
	case "unverified":
		return false, true
	}
	return false, false
}
