package main

import (
	"context"
	"encoding/json"
)

type settingView struct {
	HostID   string          `json:"host_id"`
	Settings json.RawMessage `json:"settings"`
}

type hostView struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Categories []string `json:"categories"`
	CreatedAt  string   `json:"created_at"`
}

func runServices(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl services <list-hosts|register-host|rotate-secret|enroll-mfa|delete-host|list-user|set-user|delete-user|list-group|set-group|delete-group|set> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "list-hosts":
		var out []hostView
		if err := c.get(ctx, "/api/v1/services/hosts", &out); err != nil {
			return err
		}
		for _, h := range out {
			p.human("%s  %s  %v", h.ID, h.URL, h.Categories)
		}
		return p.printData(out)

	case "register-host":
		if _, err := requirePositional(args, 2, "netsboxctl services register-host <url> <secret> [category...]"); err != nil {
			return err
		}
		body := struct {
			URL        string   `json:"url"`
			Categories []string `json:"categories"`
			Secret     string   `json:"secret"`
		}{args[0], args[2:], args[1]}
		var out hostView
		if err := c.post(ctx, "/api/v1/services/hosts", body, &out); err != nil {
			return err
		}
		p.human("registered host %s (%s)", out.URL, out.ID)
		return p.printData(out)

	case "rotate-secret":
		if _, err := requirePositional(args, 2, "netsboxctl services rotate-secret <host_id> <new_secret> [totp_code]"); err != nil {
			return err
		}
		code := ""
		if len(args) > 2 {
			code = args[2]
		}
		body := struct {
			Secret string `json:"secret"`
			Code   string `json:"code"`
		}{args[1], code}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/services/hosts/"+args[0]+"/rotate-secret", body, &out); err != nil {
			return err
		}
		p.human("rotated secret for host %s", args[0])
		return p.printData(out)

	case "enroll-mfa":
		if _, err := requirePositional(args, 1, "netsboxctl services enroll-mfa <host_id>"); err != nil {
			return err
		}
		var out struct {
			Secret string `json:"secret"`
		}
		if err := c.post(ctx, "/api/v1/services/hosts/"+args[0]+"/mfa/enroll", nil, &out); err != nil {
			return err
		}
		p.human("TOTP secret for host %s: %s (add to an authenticator app; shown once)", args[0], out.Secret)
		return p.printData(out)

	case "delete-host":
		if _, err := requirePositional(args, 1, "netsboxctl services delete-host <host_id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/services/hosts/"+args[0], &out); err != nil {
			return err
		}
		p.human("deleted host %s", args[0])
		return p.printData(out)

	case "list-user":
		if _, err := requirePositional(args, 1, "netsboxctl services list-user <user>"); err != nil {
			return err
		}
		var out []settingView
		if err := c.get(ctx, "/api/v1/services/hosts/user/"+args[0], &out); err != nil {
			return err
		}
		for _, s := range out {
			p.human("%s  %s", s.HostID, string(s.Settings))
		}
		return p.printData(out)

	case "set-user":
		if _, err := requirePositional(args, 3, "netsboxctl services set-user <user> <host_id> <settings-json>"); err != nil {
			return err
		}
		var out settingView
		body := struct {
			HostID   string          `json:"host_id"`
			Settings json.RawMessage `json:"settings"`
		}{args[1], json.RawMessage(args[2])}
		if err := c.post(ctx, "/api/v1/services/hosts/user/"+args[0], body, &out); err != nil {
			return err
		}
		p.human("set %s's settings for host %s", args[0], args[1])
		return p.printData(out)

	case "delete-user":
		if _, err := requirePositional(args, 2, "netsboxctl services delete-user <user> <host_id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/services/hosts/user/"+args[0]+"?host_id="+args[1], &out); err != nil {
			return err
		}
		p.human("deleted %s's settings for host %s", args[0], args[1])
		return p.printData(out)

	case "list-group":
		if _, err := requirePositional(args, 1, "netsboxctl services list-group <id>"); err != nil {
			return err
		}
		var out []settingView
		if err := c.get(ctx, "/api/v1/services/hosts/group/"+args[0], &out); err != nil {
			return err
		}
		for _, s := range out {
			p.human("%s  %s", s.HostID, string(s.Settings))
		}
		return p.printData(out)

	case "set-group":
		if _, err := requirePositional(args, 3, "netsboxctl services set-group <id> <host_id> <settings-json>"); err != nil {
			return err
		}
		var out settingView
		body := struct {
			HostID   string          `json:"host_id"`
			Settings json.RawMessage `json:"settings"`
		}{args[1], json.RawMessage(args[2])}
		if err := c.post(ctx, "/api/v1/services/hosts/group/"+args[0], body, &out); err != nil {
			return err
		}
		p.human("set group %s's settings for host %s", args[0], args[1])
		return p.printData(out)

	case "delete-group":
		if _, err := requirePositional(args, 2, "netsboxctl services delete-group <id> <host_id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/services/hosts/group/"+args[0]+"?host_id="+args[1], &out); err != nil {
			return err
		}
		p.human("deleted group %s's settings for host %s", args[0], args[1])
		return p.printData(out)

	case "set":
		if _, err := requirePositional(args, 3, "netsboxctl services set <user> <host> <settings-json>"); err != nil {
			return err
		}
		var out settingView
		body := struct {
			Settings json.RawMessage `json:"settings"`
		}{json.RawMessage(args[2])}
		if err := c.post(ctx, "/api/v1/services/settings/user/"+args[0]+"/"+args[1], body, &out); err != nil {
			return err
		}
		p.human("set %s's settings for host %s", args[0], args[1])
		return p.printData(out)

	default:
		return userErrorf("unknown services verb %q", verb)
	}
}
