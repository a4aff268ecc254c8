package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fleetdispatch/fleetdispatch/internal/auth"
)

// issueToken mints an access token for operators and local testing and writes it to w
// followed by its expiry on a second line.
func issueToken(w io.Writer, tokens *auth.JWTService, name, role, driverID, teams string) error {
	principal := auth.Principal{
		Name:     strings.TrimSpace(name),
		DriverID: strings.TrimSpace(driverID),
		Role:     strings.TrimSpace(role),
		Teams:    splitTeams(teams),
	}

	token, expiresAt, err := tokens.GenerateAccessToken(principal)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\nexpires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
	return err
}

func splitTeams(v string) []string {
	var teams []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			teams = append(teams, t)
		}
	}
	return teams
}
