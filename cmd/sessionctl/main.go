// Command sessionctl drives a goSession coordinator from the shell. Tokens
// persist in the configured storage backend between invocations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/autherr"
	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/internal/storage"
	"github.com/MrEthical07/goSession/session"
)

const usage = `usage: sessionctl [--config path] <command> [flags]

commands:
  login     -u user [-p password]     log in (password falls back to GOSESSION_PASSWORD)
  register  -u user -e email [-p pw]  create an account
  logout                              end the session
  whoami                              restore the session and print it
  refresh                             renew the access token
  get       <path>                    GET a protected resource through the pipeline
  navigate  <path>                    print the guard decision for path
`

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, cmd string, args []string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	ctx = logging.IntoContext(ctx, log)

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	coord, err := goSession.New().
		WithConfig(*cfg).
		WithTokenStore(store).
		WithLogger(log).
		WithAuditSink(goSession.NewSlogSink(log, slog.LevelDebug)).
		OnSessionExpired(func(loginPath string) {
			log.Warn("session expired, log in again", "login", loginPath)
		}).
		Build()
	if err != nil {
		return err
	}
	defer coord.Close()

	switch cmd {
	case "login":
		return login(ctx, coord, args, out)
	case "register":
		return register(ctx, coord, args, out)
	case "logout":
		coord.Logout(ctx)
		fmt.Fprintln(out, "logged out")
		return nil
	case "whoami":
		if err := coord.Restore(ctx); err != nil {
			return describe(err)
		}
		return printJSON(out, coord.State())
	case "refresh":
		if _, err := coord.Refresh(ctx); err != nil {
			return describe(err)
		}
		fmt.Fprintln(out, "token refreshed")
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("get needs exactly one path")
		}
		return get(ctx, coord, cfg.API.BaseURL, args[0], out)
	case "navigate":
		if len(args) != 1 {
			return errors.New("navigate needs exactly one path")
		}
		return printJSON(out, coord.Navigate(ctx, args[0]))
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func login(ctx context.Context, coord *goSession.Coordinator, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("u", "", "username")
	pass := fs.String("p", os.Getenv("GOSESSION_PASSWORD"), "password")
	remember := fs.Bool("remember", false, "ask for a long-lived session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *pass == "" {
		return errors.New("login needs -u and a password")
	}

	u, err := coord.Login(ctx, session.Credentials{Username: *user, Password: *pass, RememberMe: *remember})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "logged in as %s (%s)\n", u.Username, u.Role)
	return nil
}

func register(ctx context.Context, coord *goSession.Coordinator, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	user := fs.String("u", "", "username")
	email := fs.String("e", "", "email")
	phone := fs.String("phone", "", "phone")
	pass := fs.String("p", os.Getenv("GOSESSION_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := coord.Register(ctx, session.Registration{
		Username:        *user,
		Email:           *email,
		Password:        *pass,
		ConfirmPassword: *pass,
		Phone:           *phone,
	})
	if err != nil {
		for field, msg := range res.Fields {
			fmt.Fprintf(out, "  %s: %s\n", field, msg)
		}
		return describe(err)
	}
	fmt.Fprintln(out, res.Message)
	return nil
}

func get(ctx context.Context, coord *goSession.Coordinator, baseURL, path string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := coord.Do(req)
	if err != nil {
		return describe(err)
	}
	defer resp.Body.Close()

	fmt.Fprintf(out, "%s\n", resp.Status)
	_, err = io.Copy(out, resp.Body)
	return err
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe keeps the user-facing message and drops transport detail.
func describe(err error) error {
	var e *autherr.Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %s", e.Kind, e.Message)
	}
	return err
}
