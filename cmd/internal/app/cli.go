package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"lexion/cmd/internal/auth/autherr"
	"lexion/cmd/internal/auth/facial"
	"lexion/cmd/internal/auth/password"
	"lexion/cmd/internal/auth/qrscan"
	"lexion/cmd/internal/lexapi"

	"github.com/spf13/pflag"
)

// UserError carries a message meant for the terminal. Error() is the
// message; the cause stays reachable through Unwrap.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string { return e.Msg }

func (e *UserError) Unwrap() error { return e.Err }

func userError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotSignedIn) {
		return &UserError{Msg: "Not signed in. Run `lexion login`, `lexion facial` or `lexion qr` first.", Err: err}
	}
	return &UserError{Msg: autherr.UserMessage(err, fallback), Err: err}
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error
}

var commands = []command{
	{name: "serve", usage: "serve", summary: "run the local shell server (default)", run: cmdServe},
	{name: "login", usage: "login --email EMAIL [--password PW] --captcha TOKEN", summary: "sign in with email and password", run: cmdLogin},
	{name: "facial", usage: "facial", summary: "sign in with the camera and face recognition", run: cmdFacial},
	{name: "qr", usage: "qr", summary: "sign in by scanning a credential QR code", run: cmdQR},
	{name: "whoami", usage: "whoami", summary: "show the current session", run: cmdWhoami},
	{name: "logout", usage: "logout", summary: "end the session and forget the credential", run: cmdLogout},
	{name: "register", usage: "register --username USER --email ADDR --name NAME --phone DIGITS [--facial]", summary: "create an account, optionally enrolling a face (password read interactively)", run: cmdRegister},
	{name: "profile", usage: "profile [--name NAME] [--phone PHONE] [--email ADDR] [--avatar PATH]", summary: "show or update the account profile", run: cmdProfile},
	{name: "passwd", usage: "passwd", summary: "change the account password (interactive)", run: cmdPasswd},
	{name: "recover", usage: "recover --email EMAIL", summary: "reset a forgotten password (interactive)", run: cmdRecover},
	{name: "analyze", usage: "analyze --file PATH [--lang es] [--email-pdf] [--email ADDR] [--json]", summary: "run a lexical analysis", run: cmdAnalyze},
	{name: "send-card", usage: "send-card --pdf PATH [--email ADDR] [--name NAME]", summary: "email the credential card PDF", run: cmdSendCard},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	printf(w, "Lexion client.\n\nUsage:\n  lexion <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		printf(w, "  %-10s %s\n", c.name, c.summary)
	}
	printf(w, "\nEvery command restores the saved session first. Configuration is read from LEXION_* environment variables.\n")
}

func newFlagSet(c command, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("lexion "+c.name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		printf(out, "Usage:\n  lexion %s\n\nFlags:\n", c.usage)
		fs.PrintDefaults()
	}
	return fs
}

func noArgs(fs *pflag.FlagSet) error {
	if fs.NArg() > 0 {
		return &UserError{Msg: fmt.Sprintf("unexpected argument: %s", fs.Arg(0))}
	}
	return nil
}

func cmdServe(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}
	return a.Serve(ctx)
}

func cmdLogin(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	email := fs.String("email", "", "account email")
	pw := fs.String("password", "", "password (read from stdin when omitted)")
	captcha := fs.String("captcha", os.Getenv("LEXION_CAPTCHA_TOKEN"), "anti-automation token (env LEXION_CAPTCHA_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	secret := *pw
	if secret == "" {
		printf(a.out, "Password: ")
		line, err := a.readLine()
		if err != nil {
			return err
		}
		secret = line
	}

	err := a.password.Submit(ctx, password.Credentials{
		Identifier:   *email,
		Secret:       secret,
		CaptchaToken: *captcha,
	})
	if err != nil {
		return userError(err, a.password.State().Message)
	}
	a.printSignedIn()
	return nil
}

func cmdFacial(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	printf(a.out, "Look at the camera...\n")

	type result struct {
		st  facial.State
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := a.facial.Start(ctx)
		done <- result{st, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// The match call may still be outstanding; its result is discarded.
		a.facial.Cancel()
		return &UserError{Msg: "Cancelled.", Err: ctx.Err()}
	}
	if res.err != nil {
		if res.st.Phase == facial.PhaseNoMatch {
			return &UserError{Msg: res.st.Message, Err: res.err}
		}
		return userError(res.err, res.st.Message)
	}
	printf(a.out, "%s\n", res.st.Message)
	a.printSignedIn()
	return nil
}

func cmdQR(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	printf(a.out, "Show the credential QR code to the camera. Press Ctrl+C to stop.\n")

	done := make(chan error, 1)
	go func() { done <- a.qr.Run(ctx) }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last qrscan.State
	for {
		select {
		case err := <-done:
			st := a.qr.State()
			if err != nil {
				if errors.Is(err, autherr.ErrCancelled) {
					return &UserError{Msg: "Scan stopped.", Err: err}
				}
				return userError(err, st.Message)
			}
			printf(a.out, "%s\n", st.Message)
			a.printSignedIn()
			return nil
		case <-ticker.C:
			st := a.qr.State()
			if st.Phase != last.Phase || st.Message != last.Message {
				if st.Phase == qrscan.PhaseError && st.Message != "" {
					printf(a.out, "%s\n", st.Message)
				}
				last = st
			}
		}
	}
}

func cmdWhoami(_ context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	snap := a.sessions.Snapshot()
	if !snap.Authenticated() {
		printf(a.out, "status: %s\n", snap.Status)
		return nil
	}
	id := snap.Identity
	printf(a.out, "status: %s\nid:     %d\nname:   %s\nemail:  %s\n", snap.Status, id.ID, id.DisplayName, id.Email)
	return nil
}

func cmdLogout(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	if err := a.sessions.Clear(ctx); err != nil {
		return &UserError{Msg: "Signed out, but the saved credential could not be removed.", Err: err}
	}
	printf(a.out, "Signed out.\n")
	return nil
}

func cmdRecover(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	st, err := a.recovery.RequestCode(ctx, *email)
	if err != nil {
		return userError(err, st.Message)
	}
	printf(a.out, "%s\nCode: ", st.Message)
	code, err := a.readLine()
	if err != nil {
		return err
	}
	if st, err = a.recovery.VerifyCode(ctx, code); err != nil {
		return userError(err, st.Message)
	}

	printf(a.out, "New password: ")
	pw, err := a.readLine()
	if err != nil {
		return err
	}
	printf(a.out, "Confirm password: ")
	confirm, err := a.readLine()
	if err != nil {
		return err
	}
	if st, err = a.recovery.Reset(ctx, pw, confirm); err != nil {
		return userError(err, st.Message)
	}
	printf(a.out, "%s\n", st.Message)
	return nil
}

func cmdProfile(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	name := fs.String("name", "", "new full name")
	phone := fs.String("phone", "", "new phone number")
	email := fs.String("email", "", "new email")
	avatar := fs.String("avatar", "", "JPEG or PNG photo to upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	cred, err := a.credential()
	if err != nil {
		return userError(err, "")
	}

	var p lexapi.Profile
	switch {
	case fs.Changed("name") || fs.Changed("phone") || fs.Changed("email"):
		p, err = a.updateProfile(ctx, cred, lexapi.ProfileUpdate{FullName: *name, Phone: *phone, Email: *email})
		if err != nil {
			return userError(err, "Could not update your profile.")
		}
		printf(a.out, "Profile updated.\n")
	default:
		p, err = a.api.Profile(ctx, cred)
		if err != nil {
			a.signOutIfDenied(ctx, err)
			return userError(err, "Could not load your profile.")
		}
	}

	if *avatar != "" {
		img, err := os.ReadFile(*avatar)
		if err != nil {
			return &UserError{Msg: fmt.Sprintf("cannot read %s", *avatar), Err: err}
		}
		if p, err = a.uploadAvatar(ctx, cred, img); err != nil {
			return userError(err, "Could not update your photo.")
		}
		printf(a.out, "Photo updated.\n")
	}

	printf(a.out, "name:    %s\nemail:   %s\nphone:   %s\nrole:    %s\nsince:   %s\n",
		p.FullName, p.Email, p.Phone, p.Role, p.CreatedAt)
	return nil
}

func cmdPasswd(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	cred, err := a.credential()
	if err != nil {
		return userError(err, "")
	}

	answers := make([]string, 0, 3)
	for _, prompt := range []string{"Current password: ", "New password: ", "Confirm password: "} {
		printf(a.out, "%s", prompt)
		line, err := a.readLine()
		if err != nil {
			return err
		}
		answers = append(answers, line)
	}

	if err := a.changePassword(ctx, cred, answers[0], answers[1], answers[2]); err != nil {
		return userError(err, "Could not change your password.")
	}
	printf(a.out, "Password changed.\n")
	return nil
}

func cmdRegister(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	username := fs.String("username", "", "account username")
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "full name")
	phone := fs.String("phone", "", "phone number (8 digits)")
	withFace := fs.Bool("facial", false, "take a photo with the camera and enroll it for facial sign-in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	answers := make([]string, 0, 2)
	for _, prompt := range []string{"Password: ", "Confirm password: "} {
		printf(a.out, "%s", prompt)
		line, err := a.readLine()
		if err != nil {
			return err
		}
		answers = append(answers, line)
	}
	if *withFace {
		printf(a.out, "Look at the camera...\n")
	}

	e, err := a.register(ctx, signup{
		Registration: lexapi.Registration{
			Username: *username,
			Password: answers[0],
			Email:    *email,
			FullName: *name,
			Phone:    *phone,
		},
		Confirm: answers[1],
		Facial:  *withFace,
	})
	if err != nil {
		return userError(err, "Could not create your account.")
	}

	printf(a.out, "Account created (id %d).\n", e.UserID)
	if e.QRURL != "" {
		printf(a.out, "Sign-in QR: %s\n", e.QRURL)
	}
	if *withFace {
		printf(a.out, "Face enrolled. Sign in with `lexion facial`.\n")
	}
	return nil
}

func cmdAnalyze(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	path := fs.String("file", "", "text file to analyze")
	lang := fs.String("lang", "es", "text language")
	emailPDF := fs.Bool("email-pdf", false, "email the PDF report")
	email := fs.String("email", "", "report recipient (defaults to the account email)")
	asJSON := fs.Bool("json", false, "print the raw result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	cred, err := a.credential()
	if err != nil {
		return userError(err, "")
	}

	var content []byte
	if *path != "" {
		content, err = os.ReadFile(*path)
		if err != nil {
			return &UserError{Msg: fmt.Sprintf("cannot read %s", *path), Err: err}
		}
	}

	req := lexapi.AnalyzeRequest{
		Language: *lang,
		FileName: *path,
		Content:  content,
		EmailPDF: *emailPDF,
		Email:    firstNonEmpty(*email, a.identityEmail()),
	}
	res, err := a.api.Analyze(ctx, cred, req)
	if err != nil {
		a.signOutIfDenied(ctx, err)
		return userError(err, "The analysis failed. Please try again.")
	}

	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printAnalysis(a.out, res)
	return nil
}

func cmdSendCard(ctx context.Context, a *App, fs *pflag.FlagSet, args []string) error {
	path := fs.String("pdf", "", "credential card PDF")
	email := fs.String("email", "", "recipient (defaults to the account email)")
	name := fs.String("name", "", "name on the card (defaults to the account name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}

	cred, err := a.credential()
	if err != nil {
		return userError(err, "")
	}
	var pdf []byte
	if *path != "" {
		if pdf, err = os.ReadFile(*path); err != nil {
			return &UserError{Msg: fmt.Sprintf("cannot read %s", *path), Err: err}
		}
	}

	snap := a.sessions.Snapshot()
	to := firstNonEmpty(*email, snap.Identity.Email)
	if err := a.api.SendCredentialCard(ctx, cred, to, firstNonEmpty(*name, snap.Identity.DisplayName), pdf); err != nil {
		a.signOutIfDenied(ctx, err)
		return userError(err, "Could not send the credential. Please try again.")
	}
	printf(a.out, "Credential sent to %s.\n", to)
	return nil
}

func printAnalysis(w io.Writer, res lexapi.Analysis) {
	printf(w, "language:    %s\nwords:       %d\n", res.Language, res.TotalWords)
	rows := []struct {
		label string
		words lexapi.Words
	}{
		{"nouns", res.Nouns},
		{"verbs", res.Verbs},
		{"adjectives", res.Adjectives},
		{"pronouns", res.PersonalPronouns},
		{"names", res.PersonNames},
	}
	for _, r := range rows {
		printf(w, "%-12s %d\n", r.label+":", len(r.words))
	}
	if len(res.OtherCategories) > 0 {
		keys := make([]string, 0, len(res.OtherCategories))
		for k := range res.OtherCategories {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		printf(w, "other:       %s\n", strings.Join(keys, ", "))
	}
	if res.EmailStatus != "" {
		printf(w, "report:      %s\n", res.EmailStatus)
	}
}

func (a *App) printSignedIn() {
	snap := a.sessions.Snapshot()
	if snap.Identity == nil {
		return
	}
	printf(a.out, "Signed in as %s.\n", displayName(snap.Identity.DisplayName, snap.Identity.Email))
}

func (a *App) identityEmail() string {
	if id := a.sessions.Snapshot().Identity; id != nil {
		return id.Email
	}
	return ""
}

func (a *App) readLine() (string, error) {
	if a.in == nil {
		a.in = bufio.NewReader(os.Stdin)
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", &UserError{Msg: "input closed", Err: err}
	}
	return strings.TrimRight(line, "\r\n"), nil
}
