package main

import "context"

type roleView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Updated string `json:"updated"`
}

type projectView struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Public        bool       `json:"public"`
	Collaborators []string   `json:"collaborators"`
	Roles         []roleView `json:"roles"`
}

type roleContentView struct {
	RoleID  string `json:"role_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Live    bool   `json:"live"`
}

func runProjects(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl projects <create|get|list-owner|list-shared|rename|publish|unpublish|save|delete|latest|role-latest|invite-collaborator|collaborators|remove-collaborator> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "create":
		if _, err := requirePositional(args, 1, "netsboxctl projects create <name>"); err != nil {
			return err
		}
		body := struct {
			Name string `json:"name"`
		}{args[0]}
		var out projectView
		if err := c.post(ctx, "/api/v1/projects", body, &out); err != nil {
			return err
		}
		p.human("created project %s (%s)", out.Name, out.ID)
		return p.printData(out)

	case "get":
		if _, err := requirePositional(args, 1, "netsboxctl projects get <id>"); err != nil {
			return err
		}
		var out projectView
		if err := c.get(ctx, "/api/v1/projects/id/"+args[0], &out); err != nil {
			return err
		}
		p.human("%s  owner=%s  state=%s  public=%v", out.Name, out.Owner, out.State, out.Public)
		return p.printData(out)

	case "list-owner":
		if _, err := requirePositional(args, 1, "netsboxctl projects list-owner <owner>"); err != nil {
			return err
		}
		var out []projectView
		if err := c.get(ctx, "/api/v1/projects/user/"+args[0], &out); err != nil {
			return err
		}
		for _, pr := range out {
			p.human("%s  %s  state=%s", pr.ID, pr.Name, pr.State)
		}
		return p.printData(out)

	case "list-shared":
		if _, err := requirePositional(args, 1, "netsboxctl projects list-shared <user>"); err != nil {
			return err
		}
		var out []projectView
		if err := c.get(ctx, "/api/v1/projects/shared/"+args[0], &out); err != nil {
			return err
		}
		for _, pr := range out {
			p.human("%s  %s  owner=%s", pr.ID, pr.Name, pr.Owner)
		}
		return p.printData(out)

	case "rename":
		if _, err := requirePositional(args, 2, "netsboxctl projects rename <id> <name>"); err != nil {
			return err
		}
		return patchProject(ctx, c, p, args[0], map[string]any{"name": args[1]})

	case "publish":
		if _, err := requirePositional(args, 1, "netsboxctl projects publish <id>"); err != nil {
			return err
		}
		return patchProject(ctx, c, p, args[0], map[string]any{"public": true})

	case "unpublish":
		if _, err := requirePositional(args, 1, "netsboxctl projects unpublish <id>"); err != nil {
			return err
		}
		return patchProject(ctx, c, p, args[0], map[string]any{"public": false})

	case "save":
		if _, err := requirePositional(args, 1, "netsboxctl projects save <id>"); err != nil {
			return err
		}
		return patchProject(ctx, c, p, args[0], map[string]any{"saved": true})

	case "delete":
		if _, err := requirePositional(args, 1, "netsboxctl projects delete <id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/projects/id/"+args[0], &out); err != nil {
			return err
		}
		p.human("deleted project %s", args[0])
		return p.printData(out)

	case "latest":
		if _, err := requirePositional(args, 1, "netsboxctl projects latest <id>"); err != nil {
			return err
		}
		var out []roleContentView
		if err := c.get(ctx, "/api/v1/projects/id/"+args[0]+"/latest", &out); err != nil {
			return err
		}
		for _, rc := range out {
			p.human("role %s (%s)  live=%v  %d bytes", rc.RoleID, rc.Name, rc.Live, len(rc.Content))
		}
		return p.printData(out)

	case "role-latest":
		if _, err := requirePositional(args, 2, "netsboxctl projects role-latest <id> <role_id>"); err != nil {
			return err
		}
		var out roleContentView
		if err := c.get(ctx, "/api/v1/projects/id/"+args[0]+"/"+args[1]+"/latest", &out); err != nil {
			return err
		}
		p.human("role %s (%s)  live=%v  %d bytes", out.RoleID, out.Name, out.Live, len(out.Content))
		return p.printData(out)

	case "invite-collaborator":
		if _, err := requirePositional(args, 2, "netsboxctl projects invite-collaborator <id> <user>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/projects/id/"+args[0]+"/collaborators/invite/"+args[1], nil, &out); err != nil {
			return err
		}
		p.human("invited %s to collaborate on %s", args[1], args[0])
		return p.printData(out)

	case "collaborators":
		if _, err := requirePositional(args, 1, "netsboxctl projects collaborators <id>"); err != nil {
			return err
		}
		var out []string
		if err := c.get(ctx, "/api/v1/projects/id/"+args[0]+"/collaborators", &out); err != nil {
			return err
		}
		for _, u := range out {
			p.human("%s", u)
		}
		return p.printData(out)

	case "remove-collaborator":
		if _, err := requirePositional(args, 2, "netsboxctl projects remove-collaborator <id> <user>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/projects/id/"+args[0]+"/collaborators/"+args[1], &out); err != nil {
			return err
		}
		p.human("removed %s from %s's collaborators", args[1], args[0])
		return p.printData(out)

	default:
		return userErrorf("unknown projects verb %q", verb)
	}
}

func patchProject(ctx context.Context, c *client, p *printer, id string, body map[string]any) error {
	var out map[string]any
	if err := c.patch(ctx, "/api/v1/projects/id/"+id, body, &out); err != nil {
		return err
	}
	p.human("updated project %s", id)
	return p.printData(out)
}
