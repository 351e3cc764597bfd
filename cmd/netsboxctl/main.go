// Command netsboxctl is the operator/scripting client for the NetsBox
// control plane: the spec.md §6 CLI with one verb group per resource
// (users, projects, friends, groups, libraries, services, network), each
// supporting human and machine (--json) output. No third-party flag or
// subcommand library is adopted here — stdlib flag plus a switch on the
// first two positional arguments, in the teacher's stdlib-first idiom,
// since the verb set is small and fixed and a framework would buy nothing
// a hand-rolled dispatch doesn't already give for free.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("netsboxctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		serverFlag  = fs.String("server", "", "control-plane base URL (default: last login's server, or http://localhost:8080)")
		jsonOut     = fs.Bool("json", false, "machine-readable JSON output")
		timeoutFlag = fs.Duration("timeout", 30*time.Second, "request timeout")
	)
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return exitUserError
	}

	rest := fs.Args()
	if len(rest) < 1 {
		printUsage(stderr)
		return exitUserError
	}

	sess := loadSession()
	server := *serverFlag
	if server == "" {
		server = sess.Server
	}
	if server == "" {
		server = "http://localhost:8080"
	}

	c := newClient(server, sess.Token, *timeoutFlag)
	p := &printer{json: *jsonOut, out: stdout}
	ctx := context.Background()

	resource := rest[0]
	verbArgs := rest[1:]

	var err error
	switch resource {
	case "users":
		err = runUsers(ctx, c, p, server, verbArgs)
	case "groups":
		err = runGroups(ctx, c, p, verbArgs)
	case "projects":
		err = runProjects(ctx, c, p, verbArgs)
	case "friends":
		err = runFriends(ctx, c, p, verbArgs)
	case "libraries":
		err = runLibraries(ctx, c, p, verbArgs)
	case "services":
		err = runServices(ctx, c, p, verbArgs)
	case "network":
		err = runNetwork(ctx, c, p, verbArgs)
	default:
		fmt.Fprintf(stderr, "netsboxctl: unknown resource %q\n", resource)
		printUsage(stderr)
		return exitUserError
	}

	if err != nil {
		fmt.Fprintf(stderr, "netsboxctl: %v\n", err)
		if ce, ok := err.(*cliError); ok {
			return ce.code
		}
		return exitUserError
	}
	return exitOK
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: netsboxctl [--server URL] [--json] [--timeout DURATION] <resource> <verb> [args...]

resources:
  users      create login logout get password ban unban link unlink
  groups     create list get rename delete members
  projects   create get list-owner list-shared rename publish unpublish save delete latest role-latest invite-collaborator collaborators remove-collaborator
  friends    invite accept reject remove block list online
  libraries  community list publish delete resubmit approve
  services   list-hosts register-host rotate-secret enroll-mfa delete-host list-user set-user delete-user list-group set-group delete-group set
  network    room list invite-occupant evict trace-start trace-get trace-delete watch

run "netsboxctl <resource>" with no verb for resource-specific usage.
`)
}

func requirePositional(args []string, n int, usage string) ([]string, error) {
	if len(args) < n {
		return nil, userErrorf("usage: %s", usage)
	}
	return args, nil
}
