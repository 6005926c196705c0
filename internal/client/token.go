package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// commandTTL is how long a token printed by a command is reused.
const commandTTL = 45 * time.Minute

// StaticToken returns a source that always yields tok.
func StaticToken(tok string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"})
}

// CommandToken returns a source that runs argv and uses its trimmed stdout
// as the token, for example "gcloud auth print-identity-token".
func CommandToken(ctx context.Context, argv []string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &commandSource{ctx: ctx, argv: argv})
}

type commandSource struct {
	ctx  context.Context
	argv []string
}

func (s *commandSource) Token() (*oauth2.Token, error) {
	if len(s.argv) == 0 {
		return nil, errors.New("empty token command")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(s.ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", s.argv[0], err, strings.TrimSpace(stderr.String()))
	}
	tok := strings.TrimSpace(stdout.String())
	if tok == "" {
		return nil, fmt.Errorf("%s printed no token", s.argv[0])
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: time.Now().Add(commandTTL)}, nil
}
