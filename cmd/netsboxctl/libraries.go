package main

import (
	"context"
	"encoding/base64"
	"os"
)

type libraryView struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Notes       string `json:"notes"`
	Approved    bool   `json:"approved"`
	NeedsReview bool   `json:"needs_review"`
}

func runLibraries(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl libraries <community|list|publish|delete|resubmit|approve> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "community":
		var out []libraryView
		if err := c.get(ctx, "/api/v1/libraries/community", &out); err != nil {
			return err
		}
		for _, l := range out {
			p.human("%s/%s  approved=%v", l.Owner, l.Name, l.Approved)
		}
		return p.printData(out)

	case "list":
		if _, err := requirePositional(args, 1, "netsboxctl libraries list <user>"); err != nil {
			return err
		}
		var out []libraryView
		if err := c.get(ctx, "/api/v1/libraries/user/"+args[0], &out); err != nil {
			return err
		}
		for _, l := range out {
			p.human("%s  approved=%v  needs_review=%v", l.Name, l.Approved, l.NeedsReview)
		}
		return p.printData(out)

	case "publish":
		if _, err := requirePositional(args, 4, "netsboxctl libraries publish <user> <name> <notes> <file>"); err != nil {
			return err
		}
		raw, err := os.ReadFile(args[3])
		if err != nil {
			return userErrorf("read %s: %v", args[3], err)
		}
		body := struct {
			Notes   string `json:"notes"`
			Content string `json:"content"`
		}{args[2], base64.StdEncoding.EncodeToString(raw)}
		var out libraryView
		if err := c.post(ctx, "/api/v1/libraries/user/"+args[0]+"/"+args[1], body, &out); err != nil {
			return err
		}
		p.human("published %s/%s", out.Owner, out.Name)
		return p.printData(out)

	case "delete":
		if _, err := requirePositional(args, 2, "netsboxctl libraries delete <user> <name>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/libraries/user/"+args[0]+"/"+args[1], &out); err != nil {
			return err
		}
		p.human("deleted %s/%s", args[0], args[1])
		return p.printData(out)

	case "resubmit":
		if _, err := requirePositional(args, 2, "netsboxctl libraries resubmit <user> <name>"); err != nil {
			return err
		}
		var out libraryView
		if err := c.post(ctx, "/api/v1/libraries/user/"+args[0]+"/"+args[1]+"/publish", nil, &out); err != nil {
			return err
		}
		p.human("resubmitted %s/%s for review", out.Owner, out.Name)
		return p.printData(out)

	case "approve":
		if _, err := requirePositional(args, 2, "netsboxctl libraries approve <owner> <name>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/libraries/community/"+args[0]+"/"+args[1]+"/approve", nil, &out); err != nil {
			return err
		}
		p.human("approved %s/%s", args[0], args[1])
		return p.printData(out)

	default:
		return userErrorf("unknown libraries verb %q", verb)
	}
}
