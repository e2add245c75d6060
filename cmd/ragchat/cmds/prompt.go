package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"
	"golang.org/x/term"
)

// prompter asks for values that were not passed as flags.
type prompter struct {
	ui       *input.UI
	out      io.Writer
	password func() (string, error)
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{ui: &input.UI{Writer: out, Reader: in}, out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.password = func() (string, error) {
			b, err := term.ReadPassword(int(f.Fd()))
			_, _ = fmt.Fprintln(out)
			return string(b), err
		}
	}
	return p
}

func (p *prompter) ask(query string, current string, required bool) (string, error) {
	if strings.TrimSpace(current) != "" {
		return strings.TrimSpace(current), nil
	}
	answer, err := p.ui.Ask(query, &input.Options{
		Required:  required,
		Loop:      required,
		HideOrder: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "read %s", strings.ToLower(query))
	}
	return strings.TrimSpace(answer), nil
}

// askPassword reads without echo on a terminal and falls back to a plain prompt otherwise.
func (p *prompter) askPassword(current string) (string, error) {
	if current != "" {
		return current, nil
	}
	if p.password == nil {
		return p.ask("Password", "", true)
	}
	_, _ = fmt.Fprint(p.out, "Password: ")
	pw, err := p.password()
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}
