package main

import (
	"context"
	"fmt"
	"net/http"
)

type userView struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func runUsers(ctx context.Context, c *client, p *printer, server string, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl users <create|login|logout|get|password|ban|unban|link|unlink> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "create":
		if _, err := requirePositional(args, 3, "netsboxctl users create <username> <email> <password>"); err != nil {
			return err
		}
		body := struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}{args[0], args[1], args[2]}
		var out userView
		resp, err := c.do(ctx, http.MethodPost, "/api/v1/users/create", body, &out)
		if err != nil {
			return err
		}
		if tok, ok := tokenFromResponse(resp); ok {
			_ = saveSession(sessionFile{Server: server, Token: tok})
		}
		p.human("created user %s (%s)", out.Username, out.Role)
		return p.printData(out)

	case "login":
		if _, err := requirePositional(args, 2, "netsboxctl users login <email> <password>"); err != nil {
			return err
		}
		body := struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}{args[0], args[1]}
		var out userView
		resp, err := c.do(ctx, http.MethodPost, "/api/v1/users/login", body, &out)
		if err != nil {
			return err
		}
		tok, ok := tokenFromResponse(resp)
		if !ok {
			return userErrorf("login succeeded but server set no session cookie")
		}
		if err := saveSession(sessionFile{Server: server, Token: tok}); err != nil {
			return userErrorf("save session: %v", err)
		}
		p.human("logged in as %s (%s)", out.Username, out.Role)
		return p.printData(out)

	case "logout":
		var out map[string]any
		if err := c.post(ctx, "/api/v1/users/logout", nil, &out); err != nil {
			return err
		}
		_ = clearSession()
		p.human("logged out")
		return p.printData(out)

	case "get":
		if _, err := requirePositional(args, 1, "netsboxctl users get <name>"); err != nil {
			return err
		}
		var out userView
		if err := c.get(ctx, "/api/v1/users/"+args[0], &out); err != nil {
			return err
		}
		p.human("%s: role=%s", out.Username, out.Role)
		return p.printData(out)

	case "password":
		if _, err := requirePositional(args, 2, "netsboxctl users password <name> <new_password>"); err != nil {
			return err
		}
		body := struct {
			NewPassword string `json:"new_password"`
		}{args[1]}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/users/"+args[0]+"/password", body, &out); err != nil {
			return err
		}
		p.human("password updated for %s", args[0])
		return p.printData(out)

	case "ban":
		if _, err := requirePositional(args, 1, "netsboxctl users ban <name>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/users/"+args[0]+"/ban", nil, &out); err != nil {
			return err
		}
		p.human("banned %s", args[0])
		return p.printData(out)

	case "unban":
		if _, err := requirePositional(args, 1, "netsboxctl users unban <name>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/users/"+args[0]+"/unban", nil, &out); err != nil {
			return err
		}
		p.human("unbanned %s", args[0])
		return p.printData(out)

	case "link":
		if _, err := requirePositional(args, 3, "netsboxctl users link <name> <strategy> <id>"); err != nil {
			return err
		}
		body := struct {
			Strategy string `json:"strategy"`
			ID       string `json:"id"`
		}{args[1], args[2]}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/users/"+args[0]+"/link", body, &out); err != nil {
			return err
		}
		p.human("linked %s to %s:%s", args[0], args[1], args[2])
		return p.printData(out)

	case "unlink":
		if _, err := requirePositional(args, 3, "netsboxctl users unlink <name> <strategy> <id>"); err != nil {
			return err
		}
		var out map[string]any
		path := fmt.Sprintf("/api/v1/users/%s/link/%s/%s", args[0], args[1], args[2])
		if err := c.delete(ctx, path, &out); err != nil {
			return err
		}
		p.human("unlinked %s from %s:%s", args[0], args[1], args[2])
		return p.printData(out)

	default:
		return userErrorf("unknown users verb %q", verb)
	}
}
