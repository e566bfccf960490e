package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error

	List(ctx context.Context) error
	Show(ctx context.Context, id string) error
	Add(ctx context.Context) error
	Edit(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Favorite(ctx context.Context, id string) error
	Recent(ctx context.Context, limit string) error
	Favorites(ctx context.Context) error
	Tag(ctx context.Context, name string) error

	Sync(ctx context.Context) error
	Retry(ctx context.Context) error
	Conflicts(ctx context.Context) error
	Resolve(ctx context.Context, id, strategy string) error
	Status(ctx context.Context) error
	Devices(ctx context.Context) error
	RemoveDevice(ctx context.Context, id string) error
	Export(ctx context.Context) error
}

type command struct {
	name  string
	usage string
	args  int
	run   func(ctx context.Context, a execIface, args []string) error
}

func commands() []command {
	return []command{
		{"list", "list", 0, func(ctx context.Context, a execIface, _ []string) error { return a.List(ctx) }},
		{"show", "show <id>", 1, func(ctx context.Context, a execIface, args []string) error { return a.Show(ctx, args[0]) }},
		{"add", "add", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Add(ctx) }},
		{"edit", "edit <id>", 1, func(ctx context.Context, a execIface, args []string) error { return a.Edit(ctx, args[0]) }},
		{"delete", "delete <id>", 1, func(ctx context.Context, a execIface, args []string) error { return a.Delete(ctx, args[0]) }},
		{"fav", "fav <id>", 1, func(ctx context.Context, a execIface, args []string) error { return a.Favorite(ctx, args[0]) }},
		{"recent", "recent [n]", 0, func(ctx context.Context, a execIface, args []string) error {
			limit := ""
			if len(args) > 0 {
				limit = args[0]
			}
			return a.Recent(ctx, limit)
		}},
		{"favorites", "favorites", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Favorites(ctx) }},
		{"tag", "tag <name>", 1, func(ctx context.Context, a execIface, args []string) error { return a.Tag(ctx, args[0]) }},
		{"sync", "sync", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Sync(ctx) }},
		{"retry", "retry", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Retry(ctx) }},
		{"conflicts", "conflicts", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Conflicts(ctx) }},
		{"resolve", "resolve <id> <local|remote|merge>", 2, func(ctx context.Context, a execIface, args []string) error {
			return a.Resolve(ctx, args[0], args[1])
		}},
		{"status", "status", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Status(ctx) }},
		{"devices", "devices", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Devices(ctx) }},
		{"rmdevice", "rmdevice <id>", 1, func(ctx context.Context, a execIface, args []string) error {
			return a.RemoveDevice(ctx, args[0])
		}},
		{"export", "export", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Export(ctx) }},
		{"logout", "logout", 0, func(ctx context.Context, a execIface, _ []string) error { return a.Logout(ctx) }},
	}
}

// runREPL reads commands from scanner until EOF, "exit"/"quit" or ctx is done.
//
// Signed out, only help, register and login are offered. Signed in, the note
// and sync commands become available; "help" lists them with their usage.
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	cmds := commands()

	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("notesync %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		name, args := parts[0], parts[1:]

		var err error
		switch name {
		case "help":
			if a.isLoggedIn() {
				usages := make([]string, 0, len(cmds)+1)
				for _, c := range cmds {
					usages = append(usages, c.usage)
				}
				printlnFn("Available commands:", strings.Join(append(usages, "exit"), ", "))
			} else {
				printlnFn("Available commands: register, login, exit")
			}
			continue

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "l":
			err = a.List(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			err = dispatch(ctx, a, cmds, name, args)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func dispatch(ctx context.Context, a execIface, cmds []command, name string, args []string) error {
	for _, c := range cmds {
		if c.name != name {
			continue
		}
		if !a.isLoggedIn() {
			printlnFn("Please login first")
			return nil
		}
		if len(args) < c.args {
			printlnFn("Usage:", c.usage)
			return nil
		}
		return c.run(ctx, a, args)
	}
	printlnFn("Unknown command:", name)
	return nil
}
