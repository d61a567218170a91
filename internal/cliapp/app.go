package cliapp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/keypost-cli/keypost/internal/account"
	"github.com/keypost-cli/keypost/internal/errs"
	"github.com/keypost-cli/keypost/internal/locker"
)

// App wires the account and locker flows to an interactive menu loop
// (§6.2). Whenever a locker operation reports an expired session (§7
// Unauthorized policy), it logs in again with the credentials of the last
// successful login, without prompting, and retries once.
type App struct {
	account  *account.Flow
	locker   *locker.Flow
	prompt   Prompter
	out      io.Writer
	lastAuth struct {
		email, password string
		known           bool
	}
}

// New constructs an App.
func New(acc *account.Flow, lck *locker.Flow, prompt Prompter, out io.Writer, log zerolog.Logger) *App {
	return &App{account: acc, locker: lck, prompt: prompt, out: out}
}

const menu = `
1) Register
2) Login
3) Put key
4) Get key
5) Delete key
6) Logout
7) Exit
`

// Run drives the menu loop until the user exits or input is exhausted
// (Ctrl-D), returning a process exit code (§6.2: 0 normal, 1 fatal I/O
// error).
func (a *App) Run() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		fmt.Fprintln(a.out, "\ninterrupted")
		os.Exit(0)
	}()

	for {
		fmt.Fprint(a.out, menu)
		choice, err := a.prompt.Line("> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out, "goodbye")
			return 0
		}
		if err != nil {
			fmt.Fprintf(a.out, "input error: %v\n", err)
			return 1
		}

		switch choice {
		case "1":
			a.doRegister()
		case "2":
			a.doLogin()
		case "3":
			a.doPut()
		case "4":
			a.doGet()
		case "5":
			a.doDelete()
		case "6":
			a.doLogout()
		case "7":
			fmt.Fprintln(a.out, "goodbye")
			return 0
		default:
			fmt.Fprintln(a.out, "unrecognized choice")
		}
	}
}

func (a *App) credentials() (email, password string, err error) {
	email, err = a.prompt.Line("email: ")
	if err != nil {
		return "", "", err
	}
	password, err = a.prompt.Secret("password: ")
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func (a *App) doRegister() {
	email, password, err := a.credentials()
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	if err := a.account.Register(email, password); err != nil {
		a.reportError("register", err)
		return
	}
	fmt.Fprintln(a.out, "registered")
}

func (a *App) doLogin() {
	email, password, err := a.credentials()
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	if err := a.login(email, password); err != nil {
		a.reportError("login", err)
		return
	}
	fmt.Fprintln(a.out, "logged in")
}

func (a *App) login(email, password string) error {
	if err := a.account.Login(email, password); err != nil {
		return err
	}
	a.lastAuth.email, a.lastAuth.password, a.lastAuth.known = email, password, true
	return nil
}

func (a *App) doPut() {
	name, err := a.prompt.Line("locker name: ")
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	secret, err := a.prompt.Secret("secret: ")
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	if err := a.withReauth(func() error { return a.locker.Put(name, secret) }); err != nil {
		a.reportError("locker put", err)
		return
	}
	fmt.Fprintln(a.out, "stored")
}

func (a *App) doGet() {
	name, err := a.prompt.Line("locker name: ")
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	var secret string
	fetch := func() error {
		var err error
		secret, err = a.locker.Get(name)
		return err
	}
	if err := a.withReauth(fetch); err != nil {
		a.reportError("locker get", err)
		return
	}
	fmt.Fprintf(a.out, "secret: %s\n", secret)
}

func (a *App) doDelete() {
	name, err := a.prompt.Line("locker name: ")
	if err != nil {
		fmt.Fprintf(a.out, "input error: %v\n", err)
		return
	}
	if err := a.withReauth(func() error { return a.locker.Delete(name) }); err != nil {
		a.reportError("locker delete", err)
		return
	}
	fmt.Fprintln(a.out, "deleted")
}

func (a *App) doLogout() {
	if err := a.account.Logout(); err != nil {
		a.reportError("logout", err)
		return
	}
	a.lastAuth.known = false
	fmt.Fprintln(a.out, "logged out")
}

// withReauth runs op once, and on an Unauthorized result (§7: the server
// reports the session expired) re-logs in with the last-known credentials
// and retries exactly once, per the CLI's session-expiry retry policy.
func (a *App) withReauth(op func() error) error {
	err := op()
	if err == nil || !errs.Is(err, errs.KindUnauthorized) {
		return err
	}
	if !a.lastAuth.known {
		return err
	}
	fmt.Fprintln(a.out, "session expired, please login again")
	if err := a.login(a.lastAuth.email, a.lastAuth.password); err != nil {
		return err
	}
	return op()
}

// reportError prints a taxonomy-classified error without leaking
// step-level protocol detail (§7, §9 Error-classification stability).
func (a *App) reportError(context string, err error) {
	switch {
	case errs.Is(err, errs.KindUnauthorized):
		fmt.Fprintln(a.out, "please login again")
	case errs.Is(err, errs.KindKeyPinMismatch):
		fmt.Fprintln(a.out, "warning: server identity changed, possible interception — aborting")
	case errs.Is(err, errs.KindProtocol):
		fmt.Fprintf(a.out, "%s failed: incorrect password or corrupted data\n", context)
	default:
		fmt.Fprintf(a.out, "%s failed: %v\n", context, err)
	}
}
