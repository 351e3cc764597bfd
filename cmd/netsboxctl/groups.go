package main

import "context"

type groupView struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func runGroups(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl groups <create|list|get|rename|delete|members> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "create":
		if _, err := requirePositional(args, 1, "netsboxctl groups create <name>"); err != nil {
			return err
		}
		body := struct {
			Name string `json:"name"`
		}{args[0]}
		var out groupView
		if err := c.post(ctx, "/api/v1/groups", body, &out); err != nil {
			return err
		}
		p.human("created group %s (%s)", out.Name, out.ID)
		return p.printData(out)

	case "list":
		var out []groupView
		if err := c.get(ctx, "/api/v1/groups", &out); err != nil {
			return err
		}
		for _, g := range out {
			p.human("%s  %s  owner=%s", g.ID, g.Name, g.Owner)
		}
		return p.printData(out)

	case "get":
		if _, err := requirePositional(args, 1, "netsboxctl groups get <id>"); err != nil {
			return err
		}
		var out groupView
		if err := c.get(ctx, "/api/v1/groups/"+args[0], &out); err != nil {
			return err
		}
		p.human("%s  owner=%s", out.Name, out.Owner)
		return p.printData(out)

	case "rename":
		if _, err := requirePositional(args, 2, "netsboxctl groups rename <id> <name>"); err != nil {
			return err
		}
		body := struct {
			Name string `json:"name"`
		}{args[1]}
		var out map[string]any
		if err := c.patch(ctx, "/api/v1/groups/"+args[0], body, &out); err != nil {
			return err
		}
		p.human("renamed %s to %s", args[0], args[1])
		return p.printData(out)

	case "delete":
		if _, err := requirePositional(args, 1, "netsboxctl groups delete <id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/groups/"+args[0], &out); err != nil {
			return err
		}
		p.human("deleted group %s", args[0])
		return p.printData(out)

	case "members":
		if _, err := requirePositional(args, 1, "netsboxctl groups members <id>"); err != nil {
			return err
		}
		var out []string
		if err := c.get(ctx, "/api/v1/groups/"+args[0]+"/members", &out); err != nil {
			return err
		}
		for _, m := range out {
			p.human("%s", m)
		}
		return p.printData(out)

	default:
		return userErrorf("unknown groups verb %q", verb)
	}
}
