package main

import "context"

func runFriends(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl friends <invite|accept|reject|remove|block|list|online> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "invite":
		if _, err := requirePositional(args, 2, "netsboxctl friends invite <user> <other>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/friends/"+args[0]+"/invite/"+args[1], nil, &out); err != nil {
			return err
		}
		p.human("invited %s as a friend of %s", args[1], args[0])
		return p.printData(out)

	case "accept":
		return respondFriendInvite(ctx, c, p, args, "accept")

	case "reject":
		return respondFriendInvite(ctx, c, p, args, "reject")

	case "remove":
		if _, err := requirePositional(args, 2, "netsboxctl friends remove <user> <other>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/friends/"+args[0]+"/"+args[1], &out); err != nil {
			return err
		}
		p.human("removed friendship between %s and %s", args[0], args[1])
		return p.printData(out)

	case "block":
		if _, err := requirePositional(args, 2, "netsboxctl friends block <user> <other>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/friends/"+args[0]+"/block/"+args[1], nil, &out); err != nil {
			return err
		}
		p.human("%s blocked %s", args[0], args[1])
		return p.printData(out)

	case "list":
		if _, err := requirePositional(args, 1, "netsboxctl friends list <user>"); err != nil {
			return err
		}
		var out []string
		if err := c.get(ctx, "/api/v1/friends/"+args[0], &out); err != nil {
			return err
		}
		for _, f := range out {
			p.human("%s", f)
		}
		return p.printData(out)

	case "online":
		if _, err := requirePositional(args, 1, "netsboxctl friends online <user>"); err != nil {
			return err
		}
		var out []string
		if err := c.get(ctx, "/api/v1/friends/"+args[0]+"/online", &out); err != nil {
			return err
		}
		for _, f := range out {
			p.human("%s", f)
		}
		return p.printData(out)

	default:
		return userErrorf("unknown friends verb %q", verb)
	}
}

func respondFriendInvite(ctx context.Context, c *client, p *printer, args []string, action string) error {
	if _, err := requirePositional(args, 2, "netsboxctl friends "+action+" <user> <inviter>"); err != nil {
		return err
	}
	var out map[string]any
	path := "/api/v1/friends/" + args[0] + "/respond/" + args[1] + "?action=" + action
	if err := c.post(ctx, path, nil, &out); err != nil {
		return err
	}
	p.human("%s %s's friend invite", action+"ed", args[1])
	return p.printData(out)
}
