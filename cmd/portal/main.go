package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pitabwire/util"

	"github.com/pitabwire/portal"
	"github.com/pitabwire/portal/session"
)

const minArgsCommand = 2

func main() {
	command := "serve"
	args := []string{}
	if len(os.Args) >= minArgsCommand {
		command, args = os.Args[1], os.Args[2:]
	}

	switch command {
	case "serve":
		exitOnErr(cmdServe(args))
	case "check":
		exitOnErr(cmdCheck(args))
	case "hash-password":
		exitOnErr(cmdHashPassword(args))
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", command)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stdout, "portal <command> [args]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Commands:")
	fmt.Fprintln(os.Stdout, "  serve [--addr ADDR]     run the portal (default)")
	fmt.Fprintln(os.Stdout, "  check                   build the service from the environment and exit")
	fmt.Fprintln(os.Stdout, "  hash-password           read a password on stdin and print its hash")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Configuration is read from the environment, see config.ConfigurationDefault.")
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address, defaults to HTTP_PORT")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()

	ctx, svc, err := portal.NewService(ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("could not start portal")
	}

	err = svc.Run(ctx, *addr)
	if err != nil && !errors.Is(err, context.Canceled) {
		svc.Log(ctx).WithError(err).Fatal("portal stopped")
	}
	return nil
}

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	ctx, svc, err := portal.NewService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop(ctx)

	fmt.Fprintf(os.Stdout, "%s: configuration and route tree are valid\n", svc.Name())
	return nil
}

func cmdHashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return errors.New("password is required on stdin")
	}

	hash, err := session.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, hash)
	return nil
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
